package tracker

// Values are read and modified atomically, but not consistently.

import (
	"expvar"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type Stat struct {
	Connect     expvar.Int
	ConnectFail expvar.Int
	Handshake   expvar.Int
	Sent        expvar.Int
	SendFail    expvar.Int
	Ack         expvar.Int
	Ping        expvar.Int
	Malformed   expvar.Int
	SourceError expvar.Int
	Warn        expvar.Int
	Timeout     expvar.Int
	BytesIn     expvar.Int
	BytesOut    expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"connect":%d,"connect_fail":%d,"handshake":%d,"sent":%d,"send_fail":%d,"ack":%d,"ping":%d,"malformed":%d,"source_error":%d,"warn":%d,"timeout":%d,"bytes_in":%d,"bytes_out":%d}`,
		s.Connect.Value(), s.ConnectFail.Value(), s.Handshake.Value(),
		s.Sent.Value(), s.SendFail.Value(), s.Ack.Value(), s.Ping.Value(),
		s.Malformed.Value(), s.SourceError.Value(), s.Warn.Value(), s.Timeout.Value(),
		s.BytesIn.Value(), s.BytesOut.Value())
}

type statMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Stat) int64
}

// Collector exports Stat to prometheus registry.
type Collector struct {
	stat    *Stat
	metrics []statMetric
}

var _ prometheus.Collector = &Collector{}

func NewCollector(stat *Stat, sourceID int) *Collector {
	labels := prometheus.Labels{"source": fmt.Sprint(sourceID)}
	counter := func(name, help string, f func(*Stat) int64) statMetric {
		return statMetric{
			desc:  prometheus.NewDesc("trackrelay_"+name, help, nil, labels),
			kind:  prometheus.CounterValue,
			value: f,
		}
	}
	return &Collector{
		stat: stat,
		metrics: []statMetric{
			counter("connects_total", "Established tracker links.", func(s *Stat) int64 { return s.Connect.Value() }),
			counter("connect_failures_total", "Failed connect attempts.", func(s *Stat) int64 { return s.ConnectFail.Value() }),
			counter("handshakes_total", "Handshakes written after connect.", func(s *Stat) int64 { return s.Handshake.Value() }),
			counter("messages_sent_total", "Payloads written to tracker.", func(s *Stat) int64 { return s.Sent.Value() }),
			counter("send_failures_total", "Failed payload writes.", func(s *Stat) int64 { return s.SendFail.Value() }),
			counter("acks_total", "OK replies received.", func(s *Stat) int64 { return s.Ack.Value() }),
			counter("pings_total", "PING requests answered.", func(s *Stat) int64 { return s.Ping.Value() }),
			counter("malformed_replies_total", "Unrecognized replies.", func(s *Stat) int64 { return s.Malformed.Value() }),
			counter("source_errors_total", "Message source errors.", func(s *Stat) int64 { return s.SourceError.Value() }),
			counter("silence_warnings_total", "Warnings about inbound silence.", func(s *Stat) int64 { return s.Warn.Value() }),
			counter("timeouts_total", "Reconnects forced by inbound silence.", func(s *Stat) int64 { return s.Timeout.Value() }),
			counter("received_bytes_total", "Bytes read from tracker.", func(s *Stat) int64 { return s.BytesIn.Value() }),
			counter("sent_bytes_total", "Bytes written to tracker.", func(s *Stat) int64 { return s.BytesOut.Value() }),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, float64(m.value(c.stat)))
	}
}
