package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"NetSpectra/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Headers carried by every exported flow set message.
const (
	HeaderClassifier    = "Ns-Classifier"
	HeaderIntervalStart = "Ns-Interval-Start"
	HeaderFlows         = "Ns-Flows"
)

// NATSWriter publishes each flow set as one protobuf-encoded structpb.Struct.
type NATSWriter struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSWriter connects to the NATS server at url.
func NewNATSWriter(url, subject string, logger *zap.Logger) (*NATSWriter, error) {
	nc, err := nats.Connect(url, nats.Name("ns-capture exporter"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()), zap.String("subject", subject))
	return &NATSWriter{nc: nc, subject: subject, logger: logger}, nil
}

func timeValue(t time.Time) *structpb.Value {
	ts := timestamppb.New(t)
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"seconds": structpb.NewNumberValue(float64(ts.GetSeconds())),
		"nanos":   structpb.NewNumberValue(float64(ts.GetNanos())),
	}})
}

// ValueTime converts a value produced for a timestamp back into a time.
func ValueTime(v *structpb.Value) time.Time {
	f := v.GetStructValue().GetFields()
	ts := &timestamppb.Timestamp{
		Seconds: int64(f["seconds"].GetNumberValue()),
		Nanos:   int32(f["nanos"].GetNumberValue()),
	}
	return ts.AsTime()
}

func flowValue(f *model.Flow) (*structpb.Value, error) {
	fields := make(map[string]*structpb.Value, len(f.Fields))
	for k, v := range f.Fields {
		var val *structpb.Value
		switch x := v.(type) {
		case uint16:
			val = structpb.NewNumberValue(float64(x))
		case uint8:
			val = structpb.NewNumberValue(float64(x))
		default:
			var err error
			if val, err = structpb.NewValue(x); err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
		}
		fields[k] = val
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"key":     structpb.NewStringValue(f.Key),
		"seq":     structpb.NewNumberValue(float64(f.Seq)),
		"fields":  structpb.NewStructValue(&structpb.Struct{Fields: fields}),
		"start":   timeValue(f.StartTime),
		"end":     timeValue(f.EndTime),
		"bytes":   structpb.NewNumberValue(float64(f.ByteCount)),
		"packets": structpb.NewNumberValue(float64(f.PacketCount)),
	}}), nil
}

// EncodeFlowSet converts a flow set into the wire message.
func EncodeFlowSet(set *model.FlowSet) (*structpb.Struct, error) {
	flows := make([]*structpb.Value, 0, len(set.Flows))
	for _, f := range set.Flows {
		v, err := flowValue(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode flow %s: %w", f.Key, err)
		}
		flows = append(flows, v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"classifier":     structpb.NewStringValue(set.Classifier),
		"interval_start": timeValue(set.IntervalStart),
		"interval_ms":    structpb.NewNumberValue(float64(set.Interval.Milliseconds())),
		"buckets":        structpb.NewNumberValue(float64(set.Buckets)),
		"records":        structpb.NewNumberValue(float64(set.Records)),
		"flows":          structpb.NewListValue(&structpb.ListValue{Values: flows}),
	}}, nil
}

// NewFlowSetMsg builds the NATS message for a flow set.
func NewFlowSetMsg(subject string, set *model.FlowSet) (*nats.Msg, error) {
	body, err := EncodeFlowSet(set)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow set: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderClassifier, set.Classifier)
	msg.Header.Set(HeaderIntervalStart, strconv.FormatInt(set.IntervalStart.UnixNano(), 10))
	msg.Header.Set(HeaderFlows, strconv.Itoa(len(set.Flows)))
	return msg, nil
}

func (w *NATSWriter) Write(_ context.Context, set *model.FlowSet) error {
	if len(set.Flows) == 0 {
		return nil
	}
	msg, err := NewFlowSetMsg(w.subject, set)
	if err != nil {
		return err
	}
	if err := w.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish flow set: %w", err)
	}
	return nil
}

func (w *NATSWriter) Name() string { return "nats" }

// Close flushes pending messages and closes the connection.
func (w *NATSWriter) Close() error {
	return w.nc.Drain()
}
