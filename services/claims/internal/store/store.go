package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/accordsai/claimlane/pkg/authn"
	"github.com/accordsai/claimlane/pkg/db"
	"github.com/accordsai/claimlane/services/claims/internal/claims"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string) error {
	return db.RunMigrations(dsn, migrationFS, "migrations")
}

// Migrator returns a migrate handle over the embedded migrations, for
// down/version commands.
func Migrator(dsn string) (*migrate.Migrate, error) {
	return db.NewMigrator(dsn, migrationFS, "migrations")
}

// writerLock serializes every engine writer across processes sharing the database.
const writerLock = "claimlane:writer"

type Store struct{ DB *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{DB: pool} }

var _ claims.Store = (*Store)(nil)

// View runs fn in a read-only repeatable-read transaction. A View opened
// while an Update is in flight sees the last committed state.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx claims.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn holding the writer advisory lock and commits only when fn
// returns nil.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx claims.Tx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, writerLock); err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Parameters(ctx context.Context) (claims.ParameterSet, error) {
	var p claims.ParameterSet
	var owner string
	err := t.tx.QueryRow(ctx, `
SELECT owner_id,liquidation_threshold,fee_percentage,quorum_size,paused
FROM claim_parameters WHERE id=1
`).Scan(&owner, &p.LiquidationThreshold, &p.FeePercentage, &p.QuorumSize, &p.Paused)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return claims.ParameterSet{}, claims.ErrNotInitialized
		}
		return claims.ParameterSet{}, err
	}
	p.Owner = claims.Identity(owner)
	return p, nil
}

func (t *pgTx) SaveParameters(ctx context.Context, p claims.ParameterSet) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO claim_parameters(id,owner_id,liquidation_threshold,fee_percentage,quorum_size,paused)
VALUES(1,$1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET owner_id=$1, liquidation_threshold=$2, fee_percentage=$3, quorum_size=$4, paused=$5, updated_at=now()
`, string(p.Owner), int64(p.LiquidationThreshold), int64(p.FeePercentage), int64(p.QuorumSize), p.Paused)
	return err
}

func (t *pgTx) Balance(ctx context.Context) (claims.Amount, error) {
	var raw string
	err := t.tx.QueryRow(ctx, `SELECT balance::text FROM ledger_accounts WHERE id=1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return claims.Amount{}, nil
		}
		return claims.Amount{}, err
	}
	return claims.ParseAmount(raw)
}

func (t *pgTx) SaveBalance(ctx context.Context, balance claims.Amount) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO ledger_accounts(id,balance) VALUES(1,$1::numeric)
ON CONFLICT (id) DO UPDATE SET balance=EXCLUDED.balance, updated_at=now()
`, balance.String())
	return err
}

const claimColumns = `owner_id,claim_id,principal::text,leverage::text,insurance_rate,estimated_payout::text,payout_amount::text,
verified,state,submitted_at,COALESCE(verified_by,''),verified_at,paid_at,paid_amount::text,fee_charged::text,COALESCE(transfer_ref,'')`

func scanClaim(row pgx.Row) (claims.Claim, error) {
	var (
		c                        claims.Claim
		owner, verifiedBy, state string
		principal, leverage      string
		estimated, payout        string
		paid, fee                string
		rate                     int64
	)
	err := row.Scan(&owner, &c.ClaimID, &principal, &leverage, &rate, &estimated, &payout,
		&c.Verified, &state, &c.SubmittedAt, &verifiedBy, &c.VerifiedAt, &c.PaidAt, &paid, &fee, &c.TransferRef)
	if err != nil {
		return claims.Claim{}, err
	}
	c.Owner = claims.Identity(owner)
	c.VerifiedBy = claims.Identity(verifiedBy)
	c.State = claims.State(state)
	c.InsuranceRate = uint64(rate)
	if c.Leverage, err = strconv.ParseUint(leverage, 10, 64); err != nil {
		return claims.Claim{}, fmt.Errorf("decode leverage: %w", err)
	}
	for _, f := range []struct {
		dst *claims.Amount
		raw string
	}{{&c.Principal, principal}, {&c.EstimatedPayout, estimated}, {&c.PayoutAmount, payout}, {&c.PaidAmount, paid}, {&c.FeeCharged, fee}} {
		if *f.dst, err = claims.ParseAmount(f.raw); err != nil {
			return claims.Claim{}, err
		}
	}
	c.SubmittedAt = c.SubmittedAt.UTC()
	if c.VerifiedAt != nil {
		v := c.VerifiedAt.UTC()
		c.VerifiedAt = &v
	}
	if c.PaidAt != nil {
		v := c.PaidAt.UTC()
		c.PaidAt = &v
	}
	return c, nil
}

func (t *pgTx) queryClaims(ctx context.Context, sql string, args ...any) ([]claims.Claim, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []claims.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) Claim(ctx context.Context, key claims.ClaimKey) (claims.Claim, error) {
	c, err := scanClaim(t.tx.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE owner_id=$1 AND claim_id=$2`,
		string(key.Owner), key.ClaimID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return claims.Claim{}, fmt.Errorf("%w: claim %s", claims.ErrNotFound, key)
		}
		return claims.Claim{}, err
	}
	return c, nil
}

func (t *pgTx) ClaimsByOwner(ctx context.Context, owner claims.Identity) ([]claims.Claim, error) {
	return t.queryClaims(ctx, `SELECT `+claimColumns+` FROM claims WHERE owner_id=$1 ORDER BY submit_seq`, string(owner))
}

func (t *pgTx) OutstandingClaims(ctx context.Context) ([]claims.Claim, error) {
	return t.queryClaims(ctx, `SELECT `+claimColumns+` FROM claims WHERE verified AND state <> 'PAID' ORDER BY submit_seq`)
}

func (t *pgTx) InsertClaim(ctx context.Context, c claims.Claim) error {
	tag, err := t.tx.Exec(ctx, `
INSERT INTO claims(owner_id,claim_id,principal,leverage,insurance_rate,estimated_payout,payout_amount,verified,state,submitted_at)
VALUES($1,$2,$3::numeric,$4::numeric,$5,$6::numeric,$7::numeric,$8,$9,$10)
ON CONFLICT (owner_id,claim_id) DO NOTHING
`, string(c.Owner), c.ClaimID, c.Principal.String(), strconv.FormatUint(c.Leverage, 10), int64(c.InsuranceRate),
		c.EstimatedPayout.String(), c.PayoutAmount.String(), c.Verified, string(c.State), c.SubmittedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", claims.ErrDuplicateClaim, c.Key())
	}
	return nil
}

func (t *pgTx) SaveClaim(ctx context.Context, c claims.Claim) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE claims SET insurance_rate=$3, payout_amount=$4::numeric, verified=$5, state=$6, verified_by=NULLIF($7,''),
  verified_at=$8, paid_at=$9, paid_amount=$10::numeric, fee_charged=$11::numeric, transfer_ref=NULLIF($12,'')
WHERE owner_id=$1 AND claim_id=$2
`, string(c.Owner), c.ClaimID, int64(c.InsuranceRate), c.PayoutAmount.String(), c.Verified, string(c.State),
		string(c.VerifiedBy), c.VerifiedAt, c.PaidAt, c.PaidAmount.String(), c.FeeCharged.String(), c.TransferRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: claim %s", claims.ErrNotFound, c.Key())
	}
	return nil
}

func (t *pgTx) IsMember(ctx context.Context, roster claims.Roster, id claims.Identity) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM roster_members WHERE roster=$1 AND identity=$2)`,
		string(roster), string(id)).Scan(&ok)
	return ok, err
}

func (t *pgTx) Members(ctx context.Context, roster claims.Roster) ([]claims.Identity, error) {
	rows, err := t.tx.Query(ctx, `SELECT identity FROM roster_members WHERE roster=$1 ORDER BY identity`, string(roster))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []claims.Identity{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, claims.Identity(id))
	}
	return out, rows.Err()
}

func (t *pgTx) AddMember(ctx context.Context, roster claims.Roster, id claims.Identity) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO roster_members(roster,identity) VALUES($1,$2) ON CONFLICT DO NOTHING`,
		string(roster), string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) RemoveMember(ctx context.Context, roster claims.Roster, id claims.Identity) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM roster_members WHERE roster=$1 AND identity=$2`, string(roster), string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const eventColumns = `seq,event_id,kind,actor_id,COALESCE(owner_id,''),COALESCE(claim_id,''),amount::text,payload,occurred_at,prev_hash,hash`

func scanEvent(row pgx.Row) (claims.Event, error) {
	var (
		ev                 claims.Event
		seq                int64
		kind, actor, owner string
		amount             *string
		payload            []byte
	)
	if err := row.Scan(&seq, &ev.EventID, &kind, &actor, &owner, &ev.ClaimID, &amount, &payload, &ev.At, &ev.PrevHash, &ev.Hash); err != nil {
		return claims.Event{}, err
	}
	ev.Seq = uint64(seq)
	ev.Kind = claims.EventKind(kind)
	ev.Actor = claims.Identity(actor)
	ev.Owner = claims.Identity(owner)
	ev.Payload = payload
	ev.At = ev.At.UTC()
	if amount != nil {
		a, err := claims.ParseAmount(*amount)
		if err != nil {
			return claims.Event{}, err
		}
		ev.Amount = &a
	}
	return ev, nil
}

func (t *pgTx) LastEvent(ctx context.Context) (*claims.Event, error) {
	ev, err := scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM audit_events ORDER BY seq DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev claims.Event) error {
	var amount *string
	if ev.Amount != nil {
		s := ev.Amount.String()
		amount = &s
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO audit_events(seq,event_id,kind,actor_id,owner_id,claim_id,amount,payload,occurred_at,prev_hash,hash)
VALUES($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7::numeric,$8::jsonb,$9,$10,$11)
`, int64(ev.Seq), ev.EventID, string(ev.Kind), string(ev.Actor), string(ev.Owner), ev.ClaimID, amount,
		string(ev.Payload), ev.At, ev.PrevHash, ev.Hash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: event seq %d already recorded", claims.ErrChainBroken, ev.Seq)
	}
	return err
}

func (t *pgTx) Events(ctx context.Context, f claims.EventFilter) ([]claims.Event, error) {
	sql, args := eventQuery(f)
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []claims.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// eventQuery renders f as a parameterized audit_events query.
func eventQuery(f claims.EventFilter) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, 0, len(f.Kinds))
		for _, k := range f.Kinds {
			kinds = append(kinds, string(k))
		}
		add("kind = ANY($%d)", kinds)
	}
	if f.Actor != "" {
		add("actor_id=$%d", string(f.Actor))
	}
	if f.Owner != "" {
		add("owner_id=$%d", string(f.Owner))
	}
	if f.ClaimID != "" {
		add("claim_id=$%d", f.ClaimID)
	}
	if f.AfterSeq > 0 {
		add("seq>$%d", int64(f.AfterSeq))
	}
	if !f.Since.IsZero() {
		add("occurred_at>=$%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("occurred_at<$%d", f.Until)
	}
	sql := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY seq`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return sql, args
}

// LookupTokenHash resolves an API credential for the bearer authenticator.
func (s *Store) LookupTokenHash(ctx context.Context, hash string) (string, error) {
	var identity string
	err := s.DB.QueryRow(ctx, `SELECT identity FROM api_credentials WHERE token_hash=$1 AND revoked_at IS NULL`, hash).Scan(&identity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", authn.ErrUnauthorized
		}
		return "", err
	}
	return identity, nil
}

func (s *Store) IssueCredential(ctx context.Context, identity, tokenHash string) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO api_credentials(token_hash,identity) VALUES($1,$2)
ON CONFLICT (token_hash) DO UPDATE SET identity=$2, revoked_at=NULL
`, tokenHash, identity)
	return err
}

func (s *Store) RevokeCredential(ctx context.Context, tokenHash string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `UPDATE api_credentials SET revoked_at=$2 WHERE token_hash=$1 AND revoked_at IS NULL`,
		tokenHash, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
