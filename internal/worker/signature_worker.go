// Package worker consumes signature events outside the API process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"folhaponto/internal/amqp"
	"folhaponto/internal/core"
	"folhaponto/internal/events"
	"folhaponto/internal/log"
	"folhaponto/internal/services"
	"folhaponto/internal/sheets"
)

// Records is the read side the worker needs from the record store.
type Records interface {
	GetFicha(ctx context.Context, id string) (core.Ficha, error)
	GetEmployee(ctx context.Context, id string) (core.Employee, error)
}

// Consumer delivers signature event messages until its context ends.
type Consumer interface {
	ConsumeSignatureEvents(ctx context.Context, handler func(context.Context, *amqp.SignatureEventMessage) error) error
}

// SignatureWorker copies every signed ficha to the signed fichas sheet.
type SignatureWorker struct {
	records    Records
	sheets     sheets.SignedFichaWriter
	logger     *log.Logger
	structured *log.StructuredLogger
}

func NewSignatureWorker(records Records, writer sheets.SignedFichaWriter, logger *log.Logger) *SignatureWorker {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &SignatureWorker{
		records:    records,
		sheets:     writer,
		logger:     logger.WithComponent(log.ComponentWorker),
		structured: log.NewStructuredLogger(logger),
	}
}

// HandleSignatureEvent processes one message. A returned error requeues the
// message; events about fichas that no longer exist are acknowledged.
func (w *SignatureWorker) HandleSignatureEvent(ctx context.Context, msg *amqp.SignatureEventMessage) error {
	switch msg.Type {
	case events.FichaSigned:
		return w.syncSignedFicha(ctx, msg)
	case events.ManagerSignatureUpdated:
		w.logger.InfoContext(ctx, "Manager signature updated", log.FieldEventType, msg.Type)
		return nil
	default:
		w.logger.WarnContext(ctx, "Unknown signature event", log.FieldEventType, msg.Type)
		return nil
	}
}

func (w *SignatureWorker) syncSignedFicha(ctx context.Context, msg *amqp.SignatureEventMessage) error {
	f, err := w.records.GetFicha(ctx, msg.FichaID)
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Signed ficha no longer exists", log.FieldFichaID, msg.FichaID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get ficha %s: %w", msg.FichaID, err)
	}
	if !f.Signed() {
		w.logger.WarnContext(ctx, "Ficha has no employee signature, skipping", log.FieldFichaID, f.ID)
		return nil
	}
	w.structured.LogFichaSigned(ctx, f.ID, f.EmployeeID, f.Month, f.Year)

	e, err := w.records.GetEmployee(ctx, f.EmployeeID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("get employee %s: %w", f.EmployeeID, err)
	}

	row := sheets.RowFor(core.WithDerivedSummary(f), e)
	if row.SignedAt.IsZero() {
		row.SignedAt = msg.At
	}
	ref, err := w.sheets.AppendSigned(ctx, row)
	if err != nil {
		w.structured.LogError(ctx, "Failed to append signed ficha", err, log.ComponentSheets, log.OpSync,
			log.NewFields().WithFicha(f.ID, f.EmployeeID, f.Month, f.Year))
		return fmt.Errorf("append to sheets: %w", err)
	}
	w.logger.InfoContext(ctx, "Signed ficha synced",
		log.FieldFichaID, f.ID, log.FieldSheetsRef, ref, log.FieldOperation, log.OpSync)
	return nil
}

// Run consumes events and sweeps orphan fichas until ctx ends or one of the
// loops fails. A nil consumer runs the sweep alone.
func Run(ctx context.Context, w *SignatureWorker, consumer Consumer, sweep *services.SweepProcessor) error {
	g, ctx := errgroup.WithContext(ctx)

	if consumer != nil {
		g.Go(func() error {
			err := consumer.ConsumeSignatureEvents(ctx, w.HandleSignatureEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if sweep != nil {
		g.Go(func() error {
			if err := sweep.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sweep.Stop(stopCtx)
		})
	}

	return g.Wait()
}
