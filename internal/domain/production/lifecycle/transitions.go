// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle defines the order state machine and the error kinds
// surfaced by the production engines.
package lifecycle

import "github.com/rnp/cremerd/internal/domain/production/model"

// EventKind identifies the operation attempting a state transition.
type EventKind string

const (
	EvIniciar      EventKind = "iniciar"
	EvOpenPause    EventKind = "open_pause"
	EvClosePause   EventKind = "close_pause"
	EvFinalize     EventKind = "finalize"
	EvStartManual  EventKind = "start_manual"
	EvFinishManual EventKind = "finish_manual"
)

// Transition is a single allowed edge in the order state machine.
type Transition struct {
	From  model.EstadoOrder
	To    model.EstadoOrder
	Event EventKind
}

var transitionsTable = []Transition{
	// Production path
	{From: model.EstadoCreada, To: model.EstadoEnProceso, Event: EvIniciar},
	{From: model.EstadoEnProceso, To: model.EstadoPausada, Event: EvOpenPause},
	{From: model.EstadoPausada, To: model.EstadoEnProceso, Event: EvClosePause},

	// Finalize. The resulting state depends on the acumula flag; the
	// engine resolves the target after closing any active pause.
	{From: model.EstadoEnProceso, To: model.EstadoFinalizada, Event: EvFinalize},
	{From: model.EstadoPausada, To: model.EstadoFinalizada, Event: EvFinalize},

	// Manual accumulation path
	{From: model.EstadoEsperaManual, To: model.EstadoProcesoManual, Event: EvStartManual},
	{From: model.EstadoProcesoManual, To: model.EstadoFinalizada, Event: EvFinishManual},
}

// TransitionFor returns the allowed transition for a given estado+event.
func TransitionFor(from model.EstadoOrder, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// FinalizeTarget resolves the state an order finalizes into.
func FinalizeTarget(acumula bool) model.EstadoOrder {
	if acumula {
		return model.EstadoEsperaManual
	}
	return model.EstadoFinalizada
}
