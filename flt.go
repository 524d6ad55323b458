package oceanbase

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

// keys of the OceanBase 2.0 extra info block
const (
	_OB20_EXTRA_INFO_TRACE_ID        = 1
	_OB20_EXTRA_INFO_FULL_LINK_TRACE = 2
)

// full link trace TLV types
const (
	// client span info
	_FLT_TRACE_ID         = 1
	_FLT_SPAN_ID          = 2
	_FLT_CLIENT_SEND_TIME = 3
	_FLT_SESSION_ID       = 4

	// server control info
	_FLT_LEVEL                   = 10
	_FLT_SAMPLE_PERCENTAGE       = 11
	_FLT_RECORD_POLICY           = 12
	_FLT_PRINT_SAMPLE_PERCENTAGE = 13
	_FLT_SLOW_QUERY_THRESHOLD    = 14
)

// TraceSettings is the full-link trace control info last sent by the
// server.
type TraceSettings struct {
	Level                 int
	SamplePercentage      float64
	RecordPolicy          int
	PrintSamplePercentage float64
	SlowQueryThreshold    time.Duration
}

// fullLinkTrace carries the span info attached to every command and the
// control info the server returns. A nil *fullLinkTrace is disabled.
type fullLinkTrace struct {
	sessionID uuid.UUID
	traceID   trace.TraceID
	spanID    trace.SpanID
	begun     bool
	settings  TraceSettings
}

func newFullLinkTrace() *fullLinkTrace {
	return &fullLinkTrace{sessionID: uuid.New()}
}

// begin picks the trace ids of the next command: those of the span in ctx,
// or random ones.
func (f *fullLinkTrace) begin(ctx context.Context) {
	if f == nil {
		return
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		f.traceID = sc.TraceID()
		f.spanID = sc.SpanID()
	} else {
		t, s := uuid.New(), uuid.New()
		copy(f.traceID[:], t[:])
		copy(f.spanID[:], s[:8])
	}
	f.begun = true
}

// extraInfo encodes the trace id and the span info as the extra info
// block of a request.
func (f *fullLinkTrace) extraInfo() []byte {
	if f == nil {
		return nil
	}
	if !f.begun {
		f.begin(context.Background())
	}
	f.begun = false

	var v []byte
	v = appendTLV(v, _FLT_TRACE_ID, f.traceID[:])
	v = appendTLV(v, _FLT_SPAN_ID, f.spanID[:])
	v = appendTLV(v, _FLT_CLIENT_SEND_TIME, binary.LittleEndian.AppendUint64(nil, uint64(time.Now().UnixMicro())))
	v = appendTLV(v, _FLT_SESSION_ID, f.sessionID[:])

	b := appendTLV(nil, _OB20_EXTRA_INFO_TRACE_ID, []byte(f.traceID.String()))
	return appendTLV(b, _OB20_EXTRA_INFO_FULL_LINK_TRACE, v)
}

// handleExtraInfo applies the control info found in the extra info block
// of a response.
func (f *fullLinkTrace) handleExtraInfo(b []byte) {
	if f == nil {
		return
	}

	forEachTLV(b, func(key uint16, v []byte) {
		if key != _OB20_EXTRA_INFO_FULL_LINK_TRACE {
			return
		}
		forEachTLV(v, f.applyControl)
	})
}

func (f *fullLinkTrace) applyControl(typ uint16, v []byte) {
	switch {
	case typ == _FLT_LEVEL && len(v) >= 1:
		f.settings.Level = int(v[0])
	case typ == _FLT_SAMPLE_PERCENTAGE && len(v) >= 8:
		f.settings.SamplePercentage = math.Float64frombits(binary.LittleEndian.Uint64(v))
	case typ == _FLT_RECORD_POLICY && len(v) >= 1:
		f.settings.RecordPolicy = int(v[0])
	case typ == _FLT_PRINT_SAMPLE_PERCENTAGE && len(v) >= 8:
		f.settings.PrintSamplePercentage = math.Float64frombits(binary.LittleEndian.Uint64(v))
	case typ == _FLT_SLOW_QUERY_THRESHOLD && len(v) >= 8:
		f.settings.SlowQueryThreshold = time.Duration(binary.LittleEndian.Uint64(v)) * time.Microsecond
	default:
		return
	}
	logger.Debugf("full link trace control %d updated: %+v", typ, f.settings)
}

// appendTLV appends type (2) | length (4) | value.
func appendTLV(b []byte, typ uint16, v []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, typ)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

// forEachTLV calls fn for every well-formed entry of b.
func forEachTLV(b []byte, fn func(typ uint16, v []byte)) {
	for len(b) >= 6 {
		typ := binary.LittleEndian.Uint16(b[0:2])
		length := int(binary.LittleEndian.Uint32(b[2:6]))
		if 6+length > len(b) {
			return
		}
		fn(typ, b[6:6+length])
		b = b[6+length:]
	}
}

// TraceSettings returns the full-link trace control info last received
// from the server.
func (c *Conn) TraceSettings() TraceSettings {
	if c.flt == nil {
		return TraceSettings{}
	}
	return c.flt.settings
}

// TraceID returns the trace id sent with the last command, or "" when full
// link tracing is off.
func (c *Conn) TraceID() string {
	if c.flt == nil {
		return ""
	}
	return c.flt.traceID.String()
}
