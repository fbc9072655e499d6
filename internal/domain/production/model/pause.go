// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// TipoPausa classifies a pause for availability accounting.
type TipoPausa string

const (
	TipoIncidenciaMaquinaContadora     TipoPausa = "INCIDENCIA_MAQUINA_CONTADORA"
	TipoIncidenciaMaquinaPesadora      TipoPausa = "INCIDENCIA_MAQUINA_PESADORA"
	TipoIncidenciaMaquinaEtiquetadora  TipoPausa = "INCIDENCIA_MAQUINA_ETIQUETADORA"
	TipoIncidenciaMaquinaRepercap      TipoPausa = "INCIDENCIA_MAQUINA_REPERCAP"
	TipoIncidenciaMaquinaTaponadora    TipoPausa = "INCIDENCIA_MAQUINA_TAPONADORA"
	TipoIncidenciaMaquinaPosicionadora TipoPausa = "INCIDENCIA_MAQUINA_POSICIONADORA"
	TipoIncidenciaMaquinaEnvasadora    TipoPausa = "INCIDENCIA_MAQUINA_ENVASADORA"
	TipoIncidenciaMaquinaOtros         TipoPausa = "INCIDENCIA_MAQUINA_OTROS"
	TipoFaltaMaterial                  TipoPausa = "FALTA_MATERIAL"
	TipoMaterialDefectuoso             TipoPausa = "MATERIAL_DEFECTUOSO"
	TipoMantenimientoEnProceso         TipoPausa = "MANTENIMIENTO_EN_PROCESO"
	TipoLimpiezaEnProceso              TipoPausa = "LIMPIEZA_EN_PROCESO"
	TipoParadaCalidad                  TipoPausa = "PARADA_CALIDAD"
	TipoAveriaPonderal                 TipoPausa = "AVERIA_PONDERAL"
	TipoAveriaEtiqueta                 TipoPausa = "AVERIA_ETIQUETA"
	TipoCambioTurno                    TipoPausa = "CAMBIO_TURNO"
	TipoFabricacionParcial             TipoPausa = "FABRICACION_PARCIAL"
	TipoParada                         TipoPausa = "PARADA"
)

// Computa reports whether pauses of this tipo count against availability.
// Unknown tipos default to computable.
func (t TipoPausa) Computa() bool {
	switch t {
	case TipoCambioTurno, TipoFabricacionParcial, TipoParada:
		return false
	}
	return true
}

// Pause is an interval during which an order is not producing. A pause
// may be opened without a tipo; classification is then supplied on close.
type Pause struct {
	ID               int64
	IDOrder          int64
	Tipo             *TipoPausa
	Descripcion      *string
	Operario         *string
	Computa          *bool
	HoraInicio       time.Time
	HoraFin          *time.Time
	TiempoTotalPausa *float64 // minutes
}

// Open reports whether the pause has not been closed yet.
func (p *Pause) Open() bool {
	return p.HoraFin == nil
}
