// Package mqttsource feeds relay from MQTT subscription.
package mqttsource

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
)

const (
	DefaultQos           byte = 1
	defaultMaxItems           = 1024
	defaultRetryInterval      = 10 * time.Second
	disconnectQuiesceMs       = 250
)

type Options struct {
	Broker   string
	Topic    string
	ClientID string
	// Limit is max payload length, 0 means tracker.DefaultPayloadLimit
	Limit int
	// MaxItems bounds memory queue between broker and relay
	MaxItems      int
	RetryInterval time.Duration
	Log           *log2.Log
}

type Source struct {
	log  *log2.Log
	opt  Options
	q    *tracker.MemQueue
	m    mqtt.Client
	mopt *mqtt.ClientOptions
}

var _ tracker.Source = &Source{}

// New starts background connection to broker and returns immediately.
// Messages arriving before relay pulls them are kept in bounded memory queue.
func New(opt Options) (*Source, error) {
	s, err := newSource(opt)
	if err != nil {
		return nil, err
	}
	mqtt.ERROR = s.log
	mqtt.CRITICAL = s.log
	mqtt.WARN = s.log

	s.m = mqtt.NewClient(s.mopt)
	if token := s.m.Connect(); token.Error() != nil {
		return nil, errors.Annotatef(token.Error(), "mqtt connect broker=%s", opt.Broker)
	}
	s.log.Infof("mqtt connecting broker=%s topic=%s", opt.Broker, opt.Topic)
	return s, nil
}

func newSource(opt Options) (*Source, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("mqtt broker=empty")
	}
	if opt.Topic == "" {
		return nil, errors.NotValidf("mqtt topic=empty")
	}
	if opt.ClientID == "" {
		opt.ClientID = "trackrelay"
	}
	if opt.MaxItems == 0 {
		opt.MaxItems = defaultMaxItems
	}
	if opt.RetryInterval == 0 {
		opt.RetryInterval = defaultRetryInterval
	}
	s := &Source{
		log: opt.Log,
		opt: opt,
		q:   tracker.NewMemQueue(opt.Limit, opt.MaxItems),
	}
	s.mopt = mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetOrderMatters(true).
		SetDefaultPublishHandler(s.onMessage).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(opt.RetryInterval)
	return s, nil
}

func (s *Source) TryReceive() ([]byte, error) { return s.q.TryReceive() }
func (s *Source) Len() int                    { return s.q.Len() }

func (s *Source) Close() error {
	if s.m == nil {
		return nil
	}
	if s.m.IsConnected() {
		if token := s.m.Unsubscribe(s.opt.Topic); token.WaitTimeout(time.Second) && token.Error() != nil {
			s.log.Errorf("mqtt unsubscribe topic=%s err=%v", s.opt.Topic, token.Error())
		}
	}
	s.m.Disconnect(disconnectQuiesceMs)
	return nil
}

func (s *Source) onMessage(c mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	if err := s.q.Push(payload); err != nil {
		s.log.Errorf("mqtt message topic=%s dropped err=%v", msg.Topic(), err)
		return
	}
	s.log.Debugf("mqtt message topic=%s payload=%q", msg.Topic(), payload)
}

func (s *Source) onConnect(c mqtt.Client) {
	s.log.Infof("mqtt connect")
	if token := c.Subscribe(s.opt.Topic, DefaultQos, nil); token.Wait() && token.Error() != nil {
		s.log.Errorf("mqtt subscribe topic=%s err=%v", s.opt.Topic, token.Error())
	} else {
		s.log.Debugf("mqtt subscribe topic=%s", s.opt.Topic)
	}
}

func (s *Source) onConnectionLost(c mqtt.Client, err error) {
	s.log.Errorf("mqtt connection lost err=%v", err)
}

// Push injects payload locally, as if received from broker.
func (s *Source) Push(b []byte) error { return s.q.Push(b) }
