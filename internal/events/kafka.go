package events

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	tomb "gopkg.in/tomb.v2"
)

const (
	kafkaBufferSize   = 1024
	kafkaWriteTimeout = 5 * time.Second
)

// MessageWriter is the slice of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards events to a Kafka topic, keyed by resource so one
// market's events stay in partition order. Publishing never blocks a market:
// when the buffer is full the event is dropped and logged.
type KafkaSink struct {
	writer MessageWriter
	queue  chan Event
	t      tomb.Tomb
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	s := &KafkaSink{
		writer: w,
		queue:  make(chan Event, kafkaBufferSize),
	}
	s.t.Go(s.run)
	return s
}

func (s *KafkaSink) Publish(ev Event) {
	select {
	case s.queue <- ev:
	default:
		log.Warn().
			Str("kind", ev.Kind().String()).
			Msg("kafka queue full, dropping event")
	}
}

// Close drains what is queued, then closes the writer.
func (s *KafkaSink) Close() error {
	s.t.Kill(nil)
	err := s.t.Wait()
	if cerr := s.writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *KafkaSink) run() error {
	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
		case <-s.t.Dying():
			for {
				select {
				case ev := <-s.queue:
					s.write(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (s *KafkaSink) write(ev Event) {
	kind, body, err := Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("unable to encode event for kafka")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Market().String()),
		Value: body,
		Time:  ev.Time(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind.String())},
			{Key: "kind_id", Value: []byte(strconv.Itoa(int(kind)))},
		},
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", kind.String()).
			Msg("kafka publish error")
	}
}
