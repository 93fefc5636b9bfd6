package util

import "github.com/influxdata/influxdb-client-go/api/write"

// MockWriteAPI is a no-op influx write API. It stands in wherever no
// InfluxDB target is configured so metric call sites never need nil checks.
type MockWriteAPI struct{}

// WriteRecord discards the line protocol record.
func (m *MockWriteAPI) WriteRecord(line string) {}

// WritePoint discards the point.
func (m *MockWriteAPI) WritePoint(point *write.Point) {}

// Flush is a no-op.
func (m *MockWriteAPI) Flush() {}

// Close is a no-op.
func (m *MockWriteAPI) Close() {}

// Errors returns a nil channel; no writes means no errors.
func (m *MockWriteAPI) Errors() <-chan error { return nil }
