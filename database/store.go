package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/xerrors"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"settlement-service/ledger"
	"settlement-service/models"
)

// Store is the SQL ledger store. Every status change is an UPDATE guarded by
// the expected current status, and a batch runs in one transaction.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func putProduct(ctx context.Context, tx *sql.Tx, p models.Product) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET seller_id = ?, title = ?, price = ?, quantity_available = ? WHERE id = ?`,
		p.SellerID, p.Title, p.Price.String(), p.QuantityAvailable, p.ID)
	if err != nil {
		return xerrors.Errorf("update product: %w", err)
	}
	// MySQL reports zero affected rows for an update that changes nothing.
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO products (id, seller_id, title, price, quantity_available) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SellerID, p.Title, p.Price.String(), p.QuantityAvailable)
	if err != nil && !isUniqueViolation(err) {
		return xerrors.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Store) Product(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, title, price, quantity_available FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.SellerID, &p.Title, &p.Price, &p.QuantityAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("get product: %w", err)
	}
	return &p, nil
}

const orderColumns = `id, buyer_id, kind, items, total_amount, status, shipping, barter_id,
	tracking_number, courier_name, created_at, updated_at, confirmed_at, shipped_at,
	delivered_at, completed_at, cancelled_at, disputed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                              models.Order
		items, shipping                string
		created, updated               int64
		confirmed, shipped, delivered  sql.NullInt64
		completed, cancelled, disputed sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.BuyerID, (*string)(&o.Kind), &items, &o.TotalAmount, (*string)(&o.Status),
		&shipping, &o.BarterID, &o.TrackingNumber, &o.CourierName, &created, &updated,
		&confirmed, &shipped, &delivered, &completed, &cancelled, &disputed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, xerrors.Errorf("decode items of order %s: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(shipping), &o.Shipping); err != nil {
		return nil, xerrors.Errorf("decode shipping of order %s: %w", o.ID, err)
	}
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	o.ConfirmedAt = fromNullMillis(confirmed)
	o.ShippedAt = fromNullMillis(shipped)
	o.DeliveredAt = fromNullMillis(delivered)
	o.CompletedAt = fromNullMillis(completed)
	o.CancelledAt = fromNullMillis(cancelled)
	o.DisputedAt = fromNullMillis(disputed)
	return &o, nil
}

func (s *Store) Order(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *Store) OrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = ? ORDER BY created_at DESC, id ASC`, buyerID)
	if err != nil {
		return nil, xerrors.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) EscrowForOrder(ctx context.Context, orderID string) (*models.EscrowTransaction, error) {
	var (
		e                models.EscrowTransaction
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, order_id, amount, status, refund_reason, created_at, updated_at
		FROM escrows WHERE order_id = ? ORDER BY created_at DESC LIMIT 1`, orderID).
		Scan(&e.ID, &e.OrderID, &e.Amount, (*string)(&e.Status), &e.RefundReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("get escrow: %w", err)
	}
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

const proposalColumns = `id, proposer_id, recipient_id, proposer_product_id, recipient_product_id,
	notes, status, created_at, updated_at, cancelled_at`

func scanProposal(row rowScanner) (*models.BarterProposal, error) {
	var (
		p                models.BarterProposal
		created, updated int64
		cancelled        sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.ProposerID, &p.RecipientID, &p.ProposerProductID, &p.RecipientProductID,
		&p.Notes, (*string)(&p.Status), &created, &updated, &cancelled)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	p.CancelledAt = fromNullMillis(cancelled)
	return &p, nil
}

func (s *Store) Proposal(ctx context.Context, id string) (*models.BarterProposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM barter_proposals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("get proposal: %w", err)
	}
	return p, nil
}

func (s *Store) ProposalsByUser(ctx context.Context, userID string) ([]models.BarterProposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM barter_proposals
		WHERE proposer_id = ? OR recipient_id = ? ORDER BY created_at DESC, id ASC`, userID, userID)
	if err != nil {
		return nil, xerrors.Errorf("list proposals: %w", err)
	}
	defer rows.Close()
	out := make([]models.BarterProposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// NotificationsFor lists stored notifications of a user, newest first.
func (s *Store) NotificationsFor(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, link, created_at, is_read
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id ASC`, userID)
	if err != nil {
		return nil, xerrors.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var (
			n       models.Notification
			created int64
			read    int
		)
		if err := rows.Scan(&n.ID, &n.UserID, (*string)(&n.Type), &n.Title, &n.Message, &n.Link, &created, &read); err != nil {
			return nil, xerrors.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = fromMillis(created)
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// Commit applies ops in one transaction. The first failing op rolls the
// whole batch back and is reported as a *ledger.OpError.
func (s *Store) Commit(ctx context.Context, ops ...ledger.Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if err := apply(ctx, tx, op); err != nil {
			return &ledger.OpError{Index: i, Op: op, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}
	return nil
}

func apply(ctx context.Context, tx *sql.Tx, op ledger.Op) error {
	switch op := op.(type) {
	case ledger.InsertOrder:
		return insertOrder(ctx, tx, op.Order)
	case ledger.TransitionOrder:
		return transitionOrder(ctx, tx, op)
	case ledger.InsertEscrow:
		e := op.Escrow
		_, err := tx.ExecContext(ctx,
			`INSERT INTO escrows (id, order_id, active_order_id, amount, status, refund_reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.OrderID, e.OrderID, e.Amount.String(), string(e.Status), e.RefundReason,
			toMillis(e.CreatedAt), toMillis(e.UpdatedAt))
		return insertError(err)
	case ledger.TransitionEscrow:
		sets := "status = ?, updated_at = ?"
		args := []any{string(op.To), toMillis(op.At)}
		if op.To.Terminal() {
			sets += ", active_order_id = NULL"
		}
		if op.Reason != "" {
			sets += ", refund_reason = ?"
			args = append(args, op.Reason)
		}
		args = append(args, op.EscrowID, string(op.From))
		return guardedUpdate(ctx, tx, "escrows", sets, args, op.EscrowID)
	case ledger.InsertProposal:
		p := op.Proposal
		_, err := tx.ExecContext(ctx,
			`INSERT INTO barter_proposals (`+proposalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ProposerID, p.RecipientID, p.ProposerProductID, p.RecipientProductID, p.Notes,
			string(p.Status), toMillis(p.CreatedAt), toMillis(p.UpdatedAt), nullMillis(p.CancelledAt))
		return insertError(err)
	case ledger.TransitionProposal:
		sets := "status = ?, updated_at = ?"
		args := []any{string(op.To), toMillis(op.At)}
		if op.To == models.BarterCancelled {
			sets += ", cancelled_at = ?"
			args = append(args, toMillis(op.At))
		}
		args = append(args, op.ProposalID, string(op.From))
		return guardedUpdate(ctx, tx, "barter_proposals", sets, args, op.ProposalID)
	case ledger.AdjustStock:
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET quantity_available = quantity_available + ?
			WHERE id = ? AND quantity_available + ? >= 0`, op.Delta, op.ProductID, op.Delta)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 1 {
			return nil
		}
		if ok, err := exists(ctx, tx, "products", op.ProductID); err != nil {
			return err
		} else if !ok {
			return ledger.ErrNotFound
		}
		return ledger.ErrInsufficientStock
	case ledger.InsertNotification:
		n := op.Notification
		read := 0
		if n.Read {
			read = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, type, title, message, link, created_at, is_read)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Link, toMillis(n.CreatedAt), read)
		return insertError(err)
	case ledger.PutProduct:
		return putProduct(ctx, tx, op.Product)
	}
	return xerrors.Errorf("unsupported op %T", op)
}

func insertOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BuyerID, string(o.Kind), string(items), o.TotalAmount.String(), string(o.Status),
		string(shipping), o.BarterID, o.TrackingNumber, o.CourierName,
		toMillis(o.CreatedAt), toMillis(o.UpdatedAt), nullMillis(o.ConfirmedAt), nullMillis(o.ShippedAt),
		nullMillis(o.DeliveredAt), nullMillis(o.CompletedAt), nullMillis(o.CancelledAt), nullMillis(o.DisputedAt))
	return insertError(err)
}

// stampColumns maps a target status to the timestamp it sets.
var stampColumns = map[models.OrderStatus]string{
	models.OrderProcessing: "confirmed_at",
	models.OrderShipped:    "shipped_at",
	models.OrderDelivered:  "delivered_at",
	models.OrderCompleted:  "completed_at",
	models.OrderCancelled:  "cancelled_at",
	models.OrderDisputed:   "disputed_at",
}

func transitionOrder(ctx context.Context, tx *sql.Tx, op ledger.TransitionOrder) error {
	at := toMillis(op.At)
	sets := "status = ?, updated_at = ?"
	args := []any{string(op.To), at}
	if col, ok := stampColumns[op.To]; ok {
		sets += ", " + col + " = ?"
		args = append(args, at)
	}
	if op.TrackingNumber != "" {
		sets += ", tracking_number = ?"
		args = append(args, op.TrackingNumber)
	}
	if op.CourierName != "" {
		sets += ", courier_name = ?"
		args = append(args, op.CourierName)
	}
	args = append(args, op.OrderID, string(op.From))
	return guardedUpdate(ctx, tx, "orders", sets, args, op.OrderID)
}

// guardedUpdate runs "UPDATE table SET sets WHERE id = ? AND status = ?".
// No matching row means either a missing record or a changed status.
func guardedUpdate(ctx context.Context, tx *sql.Tx, table, sets string, args []any, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET `+sets+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := exists(ctx, tx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNotFound
	}
	return ledger.ErrConditionFailed
}

func exists(ctx context.Context, tx *sql.Tx, table, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func insertError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ledger.ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
