// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
)

const orderColumns = `id, cod_order, operario, lote, articulo, descripcion, estado,
	cantidad, botes_caja, std_referencia, cajas_previstas, tiempo_estimado,
	hora_creacion, hora_inicio, hora_fin, botes_buenos, botes_malos,
	total_cajas_cierre, repercap, acumula`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o                          model.Order
		creacion                   int64
		inicio, fin                sql.NullInt64
		buenos, malos, cajasCierre sql.NullInt64
		repercap, acumula          int64
	)
	err := row.Scan(
		&o.ID, &o.CodOrder, &o.Operario, &o.Lote, &o.Articulo, &o.Descripcion,
		&o.Estado, &o.Cantidad, &o.BotesCaja, &o.StdReferencia,
		&o.CajasPrevistas, &o.TiempoEstimado, &creacion, &inicio, &fin,
		&buenos, &malos, &cajasCierre, &repercap, &acumula,
	)
	if err != nil {
		return nil, err
	}
	o.HoraCreacion = millisToTime(creacion)
	o.HoraInicio = nullMillisToTime(inicio)
	o.HoraFin = nullMillisToTime(fin)
	o.BotesBuenos = nullInt(buenos)
	o.BotesMalos = nullInt(malos)
	o.TotalCajasCierre = nullInt(cajasCierre)
	o.Repercap = repercap != 0
	o.Acumula = acumula != 0
	return &o, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func intToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// InsertOrder writes a new order and returns its id.
func (t *Tx) InsertOrder(o *model.Order) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO orders
		(cod_order, operario, lote, articulo, descripcion, estado, cantidad,
		 botes_caja, std_referencia, cajas_previstas, tiempo_estimado,
		 hora_creacion, hora_inicio, hora_fin, botes_buenos, botes_malos,
		 total_cajas_cierre, repercap, acumula)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.CodOrder, o.Operario, o.Lote, o.Articulo, o.Descripcion, o.Estado,
		o.Cantidad, o.BotesCaja, o.StdReferencia, o.CajasPrevistas,
		o.TiempoEstimado, timeToMillis(o.HoraCreacion),
		timeToNullMillis(o.HoraInicio), timeToNullMillis(o.HoraFin),
		intToNull(o.BotesBuenos), intToNull(o.BotesMalos),
		intToNull(o.TotalCajasCierre), boolInt(o.Repercap), boolInt(o.Acumula),
	)
	if err != nil {
		return 0, lifecycle.Internalf("insert order: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, lifecycle.Internalf("insert order id: %v", err)
	}
	return id, nil
}

// UpdateOrder rewrites all mutable order columns.
func (t *Tx) UpdateOrder(o *model.Order) error {
	_, err := t.tx.Exec(`UPDATE orders SET
		operario=?, lote=?, articulo=?, descripcion=?, estado=?, cantidad=?,
		botes_caja=?, std_referencia=?, cajas_previstas=?, tiempo_estimado=?,
		hora_inicio=?, hora_fin=?, botes_buenos=?, botes_malos=?,
		total_cajas_cierre=?, repercap=?, acumula=?
		WHERE id=?`,
		o.Operario, o.Lote, o.Articulo, o.Descripcion, o.Estado, o.Cantidad,
		o.BotesCaja, o.StdReferencia, o.CajasPrevistas, o.TiempoEstimado,
		timeToNullMillis(o.HoraInicio), timeToNullMillis(o.HoraFin),
		intToNull(o.BotesBuenos), intToNull(o.BotesMalos),
		intToNull(o.TotalCajasCierre), boolInt(o.Repercap), boolInt(o.Acumula),
		o.ID,
	)
	if err != nil {
		return lifecycle.Internalf("update order %d: %v", o.ID, err)
	}
	return nil
}

// GetOrder loads an order by id.
func (t *Tx) GetOrder(id int64) (*model.Order, error) {
	row := t.tx.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.NotFoundf("order %d", id)
	}
	if err != nil {
		return nil, lifecycle.Internalf("get order %d: %v", id, err)
	}
	return o, nil
}

// GetOrderByCod loads an order by its business key.
func (t *Tx) GetOrderByCod(cod string) (*model.Order, error) {
	row := t.tx.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE cod_order=?`, cod)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.NotFoundf("order %q", cod)
	}
	if err != nil {
		return nil, lifecycle.Internalf("get order %q: %v", cod, err)
	}
	return o, nil
}

// ExistsCodOrder reports whether the business key is already taken.
func (t *Tx) ExistsCodOrder(cod string) (bool, error) {
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM orders WHERE cod_order=?`, cod).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, lifecycle.Internalf("exists cod_order %q: %v", cod, err)
	}
	return true, nil
}

// ListOrdersByEstado returns all orders in the given estado, most
// recently started first. Orders without hora_inicio sort last.
func (t *Tx) ListOrdersByEstado(estado model.EstadoOrder) ([]*model.Order, error) {
	rows, err := t.tx.Query(`SELECT `+orderColumns+` FROM orders
		WHERE estado=?
		ORDER BY hora_inicio IS NULL, hora_inicio DESC, id DESC`, estado)
	if err != nil {
		return nil, lifecycle.Internalf("list orders %s: %v", estado, err)
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, lifecycle.Internalf("scan order: %v", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("list orders %s: %v", estado, err)
	}
	return out, nil
}

// ListOrders returns every order, newest first.
func (t *Tx) ListOrders() ([]*model.Order, error) {
	rows, err := t.tx.Query(`SELECT ` + orderColumns + ` FROM orders ORDER BY id DESC`)
	if err != nil {
		return nil, lifecycle.Internalf("list orders: %v", err)
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, lifecycle.Internalf("scan order: %v", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("list orders: %v", err)
	}
	return out, nil
}

// ListOrdersFiltered returns orders matching every non-zero filter
// field, newest first.
func (t *Tx) ListOrdersFiltered(estado *model.EstadoOrder, operario, lote, articulo string) ([]*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if estado != nil {
		query += ` AND estado=?`
		args = append(args, *estado)
	}
	if operario != "" {
		query += ` AND operario=?`
		args = append(args, operario)
	}
	if lote != "" {
		query += ` AND lote=?`
		args = append(args, lote)
	}
	if articulo != "" {
		query += ` AND articulo=?`
		args = append(args, articulo)
	}
	query += ` ORDER BY id DESC`

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, lifecycle.Internalf("list orders filtered: %v", err)
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, lifecycle.Internalf("scan order: %v", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("list orders filtered: %v", err)
	}
	return out, nil
}

// CountOrdersByEstado returns the number of orders per estado.
func (t *Tx) CountOrdersByEstado() (map[model.EstadoOrder]int64, error) {
	rows, err := t.tx.Query(`SELECT estado, COUNT(*) FROM orders GROUP BY estado`)
	if err != nil {
		return nil, lifecycle.Internalf("count orders by estado: %v", err)
	}
	defer rows.Close()

	out := make(map[model.EstadoOrder]int64)
	for rows.Next() {
		var (
			estado model.EstadoOrder
			n      int64
		)
		if err := rows.Scan(&estado, &n); err != nil {
			return nil, lifecycle.Internalf("scan estado count: %v", err)
		}
		out[estado] = n
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("count orders by estado: %v", err)
	}
	return out, nil
}

// DeleteOrder removes the order row. Dependent rows cascade.
func (t *Tx) DeleteOrder(id int64) error {
	if _, err := t.tx.Exec(`DELETE FROM orders WHERE id=?`, id); err != nil {
		return lifecycle.Internalf("delete order %d: %v", id, err)
	}
	return nil
}

// InsertOrderExtra writes the packaging sidecar for an order.
func (t *Tx) InsertOrderExtra(e *model.OrderExtra) error {
	_, err := t.tx.Exec(`INSERT INTO order_extra (id_order, formato_bote, tipo, uds_bote)
		VALUES (?,?,?,?)`, e.IDOrder, e.FormatoBote, e.Tipo, e.UdsBote)
	if err != nil {
		return lifecycle.Internalf("insert order_extra %d: %v", e.IDOrder, err)
	}
	return nil
}

// GetOrderExtra loads the packaging sidecar, if present.
func (t *Tx) GetOrderExtra(idOrder int64) (*model.OrderExtra, error) {
	var e model.OrderExtra
	err := t.tx.QueryRow(`SELECT id_order, formato_bote, tipo, uds_bote
		FROM order_extra WHERE id_order=?`, idOrder).
		Scan(&e.IDOrder, &e.FormatoBote, &e.Tipo, &e.UdsBote)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.NotFoundf("order_extra %d", idOrder)
	}
	if err != nil {
		return nil, lifecycle.Internalf("get order_extra %d: %v", idOrder, err)
	}
	return &e, nil
}

const pauseColumns = `id, id_order, tipo, descripcion, operario, computa,
	hora_inicio, hora_fin, tiempo_total_pausa`

func scanPause(row rowScanner) (*model.Pause, error) {
	var (
		p                       model.Pause
		tipo, descripcion, oper sql.NullString
		computa, finMs          sql.NullInt64
		inicio                  int64
		total                   sql.NullFloat64
	)
	err := row.Scan(&p.ID, &p.IDOrder, &tipo, &descripcion, &oper, &computa,
		&inicio, &finMs, &total)
	if err != nil {
		return nil, err
	}
	if tipo.Valid {
		tp := model.TipoPausa(tipo.String)
		p.Tipo = &tp
	}
	if descripcion.Valid {
		p.Descripcion = &descripcion.String
	}
	if oper.Valid {
		p.Operario = &oper.String
	}
	if computa.Valid {
		b := computa.Int64 != 0
		p.Computa = &b
	}
	p.HoraInicio = millisToTime(inicio)
	p.HoraFin = nullMillisToTime(finMs)
	if total.Valid {
		p.TiempoTotalPausa = &total.Float64
	}
	return &p, nil
}

func nullTipo(t *model.TipoPausa) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: boolInt(*b), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// InsertPause writes a new pause and returns its id.
func (t *Tx) InsertPause(p *model.Pause) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO pauses
		(id_order, tipo, descripcion, operario, computa, hora_inicio, hora_fin, tiempo_total_pausa)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.IDOrder, nullTipo(p.Tipo), nullString(p.Descripcion),
		nullString(p.Operario), nullBool(p.Computa),
		timeToMillis(p.HoraInicio), timeToNullMillis(p.HoraFin),
		nullFloat(p.TiempoTotalPausa),
	)
	if err != nil {
		return 0, lifecycle.Internalf("insert pause for order %d: %v", p.IDOrder, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, lifecycle.Internalf("insert pause id: %v", err)
	}
	return id, nil
}

// UpdatePause rewrites all mutable pause columns.
func (t *Tx) UpdatePause(p *model.Pause) error {
	_, err := t.tx.Exec(`UPDATE pauses SET
		tipo=?, descripcion=?, operario=?, computa=?, hora_fin=?, tiempo_total_pausa=?
		WHERE id=?`,
		nullTipo(p.Tipo), nullString(p.Descripcion), nullString(p.Operario),
		nullBool(p.Computa), timeToNullMillis(p.HoraFin),
		nullFloat(p.TiempoTotalPausa), p.ID,
	)
	if err != nil {
		return lifecycle.Internalf("update pause %d: %v", p.ID, err)
	}
	return nil
}

// GetPause loads a pause by id.
func (t *Tx) GetPause(id int64) (*model.Pause, error) {
	row := t.tx.QueryRow(`SELECT `+pauseColumns+` FROM pauses WHERE id=?`, id)
	p, err := scanPause(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.NotFoundf("pause %d", id)
	}
	if err != nil {
		return nil, lifecycle.Internalf("get pause %d: %v", id, err)
	}
	return p, nil
}

// ActivePause returns the open pause of an order, or nil when none.
func (t *Tx) ActivePause(idOrder int64) (*model.Pause, error) {
	row := t.tx.QueryRow(`SELECT `+pauseColumns+` FROM pauses
		WHERE id_order=? AND hora_fin IS NULL`, idOrder)
	p, err := scanPause(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lifecycle.Internalf("active pause order %d: %v", idOrder, err)
	}
	return p, nil
}

// ListPausesByOrder returns all pauses of an order, oldest first.
func (t *Tx) ListPausesByOrder(idOrder int64) ([]*model.Pause, error) {
	rows, err := t.tx.Query(`SELECT `+pauseColumns+` FROM pauses
		WHERE id_order=? ORDER BY hora_inicio, id`, idOrder)
	if err != nil {
		return nil, lifecycle.Internalf("list pauses order %d: %v", idOrder, err)
	}
	defer rows.Close()

	var out []*model.Pause
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, lifecycle.Internalf("scan pause: %v", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("list pauses order %d: %v", idOrder, err)
	}
	return out, nil
}

// SumPauseMinutes totals tiempo_total_pausa over the order's closed
// pauses partitioned by computa.
func (t *Tx) SumPauseMinutes(idOrder int64, computa bool) (float64, error) {
	var total float64
	err := t.tx.QueryRow(`SELECT COALESCE(SUM(tiempo_total_pausa), 0) FROM pauses
		WHERE id_order=? AND hora_fin IS NOT NULL AND computa=?`,
		idOrder, boolInt(computa)).Scan(&total)
	if err != nil {
		return 0, lifecycle.Internalf("sum pauses order %d: %v", idOrder, err)
	}
	return total, nil
}

// ListOpenPausesByTipo returns all open pauses whose tipo matches
// (or, when negate is true, does not match) the given tipo.
func (t *Tx) ListOpenPausesByTipo(tipo model.TipoPausa, negate bool) ([]*model.Pause, error) {
	// Unclassified open pauses count as non-partial.
	cond := `tipo = ?`
	if negate {
		cond = `(tipo IS NULL OR tipo <> ?)`
	}
	rows, err := t.tx.Query(`SELECT `+pauseColumns+` FROM pauses
		WHERE hora_fin IS NULL AND `+cond+`
		ORDER BY hora_inicio, id`, tipo)
	if err != nil {
		return nil, lifecycle.Internalf("list open pauses: %v", err)
	}
	defer rows.Close()

	var out []*model.Pause
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, lifecycle.Internalf("scan pause: %v", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("list open pauses: %v", err)
	}
	return out, nil
}

// GetMetricas loads the metric snapshot of an order, or nil when none.
func (t *Tx) GetMetricas(idOrder int64) (*model.Metricas, error) {
	var m model.Metricas
	err := t.tx.QueryRow(`SELECT id, id_order, tiempo_total, tiempo_pausado,
		tiempo_activo, disponibilidad, rendimiento, calidad, oee, std_real,
		por_cump_pedido FROM metricas WHERE id_order=?`, idOrder).
		Scan(&m.ID, &m.IDOrder, &m.TiempoTotal, &m.TiempoPausado,
			&m.TiempoActivo, &m.Disponibilidad, &m.Rendimiento, &m.Calidad,
			&m.OEE, &m.StdReal, &m.PorCumpPedido)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lifecycle.Internalf("get metricas order %d: %v", idOrder, err)
	}
	return &m, nil
}

// InsertMetricas writes the one-shot metric snapshot.
func (t *Tx) InsertMetricas(m *model.Metricas) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO metricas
		(id_order, tiempo_total, tiempo_pausado, tiempo_activo, disponibilidad,
		 rendimiento, calidad, oee, std_real, por_cump_pedido)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.IDOrder, m.TiempoTotal, m.TiempoPausado, m.TiempoActivo,
		m.Disponibilidad, m.Rendimiento, m.Calidad, m.OEE, m.StdReal,
		m.PorCumpPedido,
	)
	if err != nil {
		return 0, lifecycle.Internalf("insert metricas order %d: %v", m.IDOrder, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, lifecycle.Internalf("insert metricas id: %v", err)
	}
	return id, nil
}

// DeleteMetricas removes the metric snapshot of an order.
func (t *Tx) DeleteMetricas(idOrder int64) error {
	if _, err := t.tx.Exec(`DELETE FROM metricas WHERE id_order=?`, idOrder); err != nil {
		return lifecycle.Internalf("delete metricas order %d: %v", idOrder, err)
	}
	return nil
}

// GetAcumula loads the manual phase row of an order, or nil when none.
func (t *Tx) GetAcumula(idOrder int64) (*model.Acumula, error) {
	var (
		a      model.Acumula
		inicio int64
		fin    sql.NullInt64
		total  sql.NullFloat64
	)
	err := t.tx.QueryRow(`SELECT id, id_order, hora_inicio, hora_fin,
		tiempo_total, num_cajas_manual FROM acumula WHERE id_order=?`, idOrder).
		Scan(&a.ID, &a.IDOrder, &inicio, &fin, &total, &a.NumCajasManual)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lifecycle.Internalf("get acumula order %d: %v", idOrder, err)
	}
	a.HoraInicio = millisToTime(inicio)
	a.HoraFin = nullMillisToTime(fin)
	if total.Valid {
		a.TiempoTotal = &total.Float64
	}
	return &a, nil
}

// InsertAcumula opens the manual phase row.
func (t *Tx) InsertAcumula(a *model.Acumula) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO acumula
		(id_order, hora_inicio, hora_fin, tiempo_total, num_cajas_manual)
		VALUES (?,?,?,?,?)`,
		a.IDOrder, timeToMillis(a.HoraInicio), timeToNullMillis(a.HoraFin),
		nullFloat(a.TiempoTotal), a.NumCajasManual,
	)
	if err != nil {
		return 0, lifecycle.Internalf("insert acumula order %d: %v", a.IDOrder, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, lifecycle.Internalf("insert acumula id: %v", err)
	}
	return id, nil
}

// UpdateAcumula rewrites the mutable manual phase columns.
func (t *Tx) UpdateAcumula(a *model.Acumula) error {
	_, err := t.tx.Exec(`UPDATE acumula SET
		hora_fin=?, tiempo_total=?, num_cajas_manual=? WHERE id=?`,
		timeToNullMillis(a.HoraFin), nullFloat(a.TiempoTotal),
		a.NumCajasManual, a.ID,
	)
	if err != nil {
		return lifecycle.Internalf("update acumula %d: %v", a.ID, err)
	}
	return nil
}

const counterColumns = `id, id_order, quantity, is_active, created_at,
	last_updated, last_bottle_counted_at`

func scanCounter(row rowScanner) (*model.BottleCounter, error) {
	var (
		c                model.BottleCounter
		active           int64
		created, updated int64
		lastCounted      sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.IDOrder, &c.Quantity, &active, &created,
		&updated, &lastCounted)
	if err != nil {
		return nil, err
	}
	c.IsActive = active != 0
	c.CreatedAt = millisToTime(created)
	c.LastUpdated = millisToTime(updated)
	c.LastBottleCountedAt = nullMillisToTime(lastCounted)
	return &c, nil
}

// GetCounter loads the bottle counter of an order, or nil when none.
func (t *Tx) GetCounter(idOrder int64) (*model.BottleCounter, error) {
	row := t.tx.QueryRow(`SELECT `+counterColumns+` FROM bottle_counters
		WHERE id_order=?`, idOrder)
	c, err := scanCounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lifecycle.Internalf("get counter order %d: %v", idOrder, err)
	}
	return c, nil
}

// InsertCounter writes a new bottle counter and returns its id.
func (t *Tx) InsertCounter(c *model.BottleCounter) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO bottle_counters
		(id_order, quantity, is_active, created_at, last_updated, last_bottle_counted_at)
		VALUES (?,?,?,?,?,?)`,
		c.IDOrder, c.Quantity, boolInt(c.IsActive),
		timeToMillis(c.CreatedAt), timeToMillis(c.LastUpdated),
		timeToNullMillis(c.LastBottleCountedAt),
	)
	if err != nil {
		return 0, lifecycle.Internalf("insert counter order %d: %v", c.IDOrder, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, lifecycle.Internalf("insert counter id: %v", err)
	}
	return id, nil
}

// UpdateCounter rewrites the mutable counter columns.
func (t *Tx) UpdateCounter(c *model.BottleCounter) error {
	_, err := t.tx.Exec(`UPDATE bottle_counters SET
		quantity=?, is_active=?, last_updated=?, last_bottle_counted_at=?
		WHERE id=?`,
		c.Quantity, boolInt(c.IsActive), timeToMillis(c.LastUpdated),
		timeToNullMillis(c.LastBottleCountedAt), c.ID,
	)
	if err != nil {
		return lifecycle.Internalf("update counter %d: %v", c.ID, err)
	}
	return nil
}

// GetActiveCounter returns the counter currently marked active, or nil.
func (t *Tx) GetActiveCounter() (*model.BottleCounter, error) {
	row := t.tx.QueryRow(`SELECT ` + counterColumns + ` FROM bottle_counters
		WHERE is_active=1 LIMIT 1`)
	c, err := scanCounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lifecycle.Internalf("get active counter: %v", err)
	}
	return c, nil
}

// DeactivateAllCounters clears is_active on every counter and stamps
// last_updated with now.
func (t *Tx) DeactivateAllCounters(now time.Time) error {
	_, err := t.tx.Exec(`UPDATE bottle_counters SET is_active=0, last_updated=?
		WHERE is_active=1`, timeToMillis(now))
	if err != nil {
		return lifecycle.Internalf("deactivate counters: %v", err)
	}
	return nil
}

// CountActiveCounters returns the number of counters marked active.
func (t *Tx) CountActiveCounters() (int64, error) {
	var n int64
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM bottle_counters WHERE is_active=1`).Scan(&n)
	if err != nil {
		return 0, lifecycle.Internalf("count active counters: %v", err)
	}
	return n, nil
}

// InsertDeleteAudit appends an order deletion snapshot.
func (t *Tx) InsertDeleteAudit(a *model.OrderDeleteAudit) error {
	_, err := t.tx.Exec(`INSERT INTO order_delete_audit
		(id_order, cod_order, operario, lote, articulo, estado, cantidad,
		 deleted_by, motivo, deleted_at, ip_address)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.IDOrder, a.CodOrder, a.Operario, a.Lote, a.Articulo, a.Estado,
		a.Cantidad, a.DeletedBy, a.Motivo, timeToMillis(a.DeletedAt),
		nullString(a.IPAddress),
	)
	if err != nil {
		return lifecycle.Internalf("insert delete audit order %d: %v", a.IDOrder, err)
	}
	return nil
}

// ListDeleteAudits returns every deletion snapshot, newest first.
func (t *Tx) ListDeleteAudits() ([]*model.OrderDeleteAudit, error) {
	rows, err := t.tx.Query(`SELECT id, id_order, cod_order, operario, lote,
		articulo, estado, cantidad, deleted_by, motivo, deleted_at, ip_address
		FROM order_delete_audit ORDER BY id DESC`)
	if err != nil {
		return nil, lifecycle.Internalf("list delete audits: %v", err)
	}
	defer rows.Close()

	var out []*model.OrderDeleteAudit
	for rows.Next() {
		var (
			a         model.OrderDeleteAudit
			deletedAt int64
			ip        sql.NullString
		)
		err := rows.Scan(&a.ID, &a.IDOrder, &a.CodOrder, &a.Operario, &a.Lote,
			&a.Articulo, &a.Estado, &a.Cantidad, &a.DeletedBy, &a.Motivo,
			&deletedAt, &ip)
		if err != nil {
			return nil, lifecycle.Internalf("scan delete audit: %v", err)
		}
		a.DeletedAt = millisToTime(deletedAt)
		if ip.Valid {
			s := ip.String
			a.IPAddress = &s
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Internalf("list delete audits: %v", err)
	}
	return out, nil
}
