package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotifier() *RabbitMQ {
	return &RabbitMQ{origin: "self", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func body(t *testing.T, msg ChangeMessage) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestDispatch_ForwardsForeignChanges(t *testing.T) {
	r := testNotifier()
	var got []string
	r.dispatch(body(t, ChangeMessage{Collection: "listings", ID: "l1", Action: ActionUpsert, Origin: "other"}),
		func(c string) { got = append(got, c) })
	assert.Equal(t, []string{"listings"}, got)
}

func TestDispatch_SkipsOwnAndMalformed(t *testing.T) {
	r := testNotifier()
	called := false
	onChange := func(string) { called = true }

	r.dispatch(body(t, ChangeMessage{Collection: "listings", Origin: "self"}), onChange)
	r.dispatch([]byte("{not json"), onChange)
	r.dispatch(body(t, ChangeMessage{Origin: "other"}), onChange)

	assert.False(t, called)
}

func TestChangeMessage_JSON(t *testing.T) {
	ts := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	b := body(t, ChangeMessage{Collection: "catalog_items", ID: "tom1", Action: ActionDeactivate, Origin: "o", Timestamp: ts})
	assert.JSONEq(t,
		`{"collection":"catalog_items","id":"tom1","action":"deactivate","origin":"o","timestamp":"2026-10-19T09:00:00Z"}`,
		string(b))
}

type fakeTopology struct {
	calls []string
}

func (f *fakeTopology) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "exchange "+name+" "+kind)
	return nil
}

func (f *fakeTopology) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, "queue "+name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeTopology) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "bind "+name+" "+key+" "+exchange)
	return nil
}

func TestDeclare_NoQueueWithoutExternalConsumer(t *testing.T) {
	var f fakeTopology
	require.NoError(t, declare(&f, Config{Exchange: "agrisync", RoutingKey: "changes"}))
	assert.Equal(t, []string{"exchange agrisync direct"}, f.calls)
}

func TestDeclare_DurableQueueForExternalConsumer(t *testing.T) {
	var f fakeTopology
	require.NoError(t, declare(&f, Config{Exchange: "agrisync", RoutingKey: "changes", QueueName: "backend-ingest"}))
	assert.Equal(t, []string{
		"exchange agrisync direct",
		"queue backend-ingest",
		"bind backend-ingest changes agrisync",
	}, f.calls)
}
