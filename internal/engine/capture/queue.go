package capture

// ExpiredQueue holds flushed tables, oldest first, until they are handed off.
type ExpiredQueue struct {
	tables []*Table
}

// Append adds a flushed table at the tail.
func (q *ExpiredQueue) Append(t *Table) {
	q.tables = append(q.tables, t)
}

// Len returns the number of queued tables.
func (q *ExpiredQueue) Len() int {
	return len(q.tables)
}

// Drain removes and returns every queued table in FIFO order.
func (q *ExpiredQueue) Drain() []*Table {
	tables := q.tables
	q.tables = nil
	return tables
}
