package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"folhaponto/internal/amqp"
	"folhaponto/internal/core"
	"folhaponto/internal/events"
	"folhaponto/internal/log"
	"folhaponto/internal/services"
	"folhaponto/internal/sheets"
	sheetsmem "folhaponto/internal/sheets/memory"
	"folhaponto/internal/store/memory"
)

func seed(t *testing.T, signed bool) (*memory.Store, core.Ficha) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	e, err := st.CreateEmployee(ctx, core.Employee{Name: "Ana", CPF: "11122233344"})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	f := core.Ficha{
		EmployeeID: e.ID,
		Month:      3,
		Year:       2024,
		Days: []core.DayEntry{
			{Day: 1, Entrance: "08:00", Exit: "12:00"},
			{Day: 2, Status: core.StatusAbsent},
		},
	}
	if signed {
		at := time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC)
		f.EmployeeSignature = "data:image/png;base64,AAAA"
		f.SignedAt = &at
	}
	f, err = st.CreateFicha(ctx, f)
	if err != nil {
		t.Fatalf("create ficha: %v", err)
	}
	return st, f
}

type failingWriter struct{}

func (failingWriter) AppendSigned(context.Context, sheets.SignedRow) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestHandleFichaSigned(t *testing.T) {
	st, f := seed(t, true)
	out := sheetsmem.New()
	w := NewSignatureWorker(st, out, log.Discard())

	err := w.HandleSignatureEvent(context.Background(), &amqp.SignatureEventMessage{Type: events.FichaSigned, FichaID: f.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	rows := out.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	row := rows[0]
	if row.Employee != "Ana" || row.CPF != "11122233344" || row.Absences != 1 {
		t.Fatalf("row = %+v", row)
	}
	if row.Worked != "1 dias — 4.0h" {
		t.Fatalf("worked = %q", row.Worked)
	}
}

func TestHandleSignatureEventSkips(t *testing.T) {
	tests := []struct {
		name   string
		signed bool
		msg    func(core.Ficha) *amqp.SignatureEventMessage
	}{
		{"deleted ficha", true, func(core.Ficha) *amqp.SignatureEventMessage {
			return &amqp.SignatureEventMessage{Type: events.FichaSigned, FichaID: "gone"}
		}},
		{"unsigned ficha", false, func(f core.Ficha) *amqp.SignatureEventMessage {
			return &amqp.SignatureEventMessage{Type: events.FichaSigned, FichaID: f.ID}
		}},
		{"manager signature", true, func(core.Ficha) *amqp.SignatureEventMessage {
			return &amqp.SignatureEventMessage{Type: events.ManagerSignatureUpdated}
		}},
		{"unknown type", true, func(core.Ficha) *amqp.SignatureEventMessage {
			return &amqp.SignatureEventMessage{Type: "other"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, f := seed(t, tt.signed)
			out := sheetsmem.New()
			w := NewSignatureWorker(st, out, log.Discard())
			if err := w.HandleSignatureEvent(context.Background(), tt.msg(f)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if n := len(out.Rows()); n != 0 {
				t.Fatalf("rows = %d, want 0", n)
			}
		})
	}
}

func TestHandleFichaSignedWriterFailureRequeues(t *testing.T) {
	st, f := seed(t, true)
	w := NewSignatureWorker(st, failingWriter{}, log.Discard())
	err := w.HandleSignatureEvent(context.Background(), &amqp.SignatureEventMessage{Type: events.FichaSigned, FichaID: f.ID})
	if err == nil {
		t.Fatal("expected error so the message is requeued")
	}
}

type fakeConsumer struct {
	msgs []*amqp.SignatureEventMessage
	errs []error
}

func (c *fakeConsumer) ConsumeSignatureEvents(ctx context.Context, handler func(context.Context, *amqp.SignatureEventMessage) error) error {
	for _, m := range c.msgs {
		c.errs = append(c.errs, handler(ctx, m))
	}
	<-ctx.Done()
	return ctx.Err()
}

type countingSweeper struct{ calls atomic.Int32 }

func (s *countingSweeper) SweepOrphans(context.Context) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestRunStopsOnCancel(t *testing.T) {
	st, f := seed(t, true)
	out := sheetsmem.New()
	w := NewSignatureWorker(st, out, log.Discard())
	consumer := &fakeConsumer{msgs: []*amqp.SignatureEventMessage{{Type: events.FichaSigned, FichaID: f.ID}}}
	sweeper := &countingSweeper{}
	proc := services.NewSweepProcessor(sweeper, services.SweepProcessorConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, w, consumer, proc) }()

	deadline := time.After(2 * time.Second)
	for len(out.Rows()) == 0 || sweeper.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not process the event and the startup sweep")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if proc.IsRunning() {
		t.Fatal("sweep processor still running")
	}
}
