package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestPGReadsEitherDriver(t *testing.T) {
	pgxErr := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_ledger_order_type"})
	info, ok := PG(pgxErr)
	if !ok || info.Code != "23505" || info.Constraint != "ux_ledger_order_type" {
		t.Fatalf("unexpected pgx info %+v ok=%v", info, ok)
	}

	pqErr := fmt.Errorf("goose: %w", &pq.Error{Code: "42P01", Table: "orders"})
	info, ok = PG(pqErr)
	if !ok || info.Code != "42P01" || info.Table != "orders" {
		t.Fatalf("unexpected pq info %+v ok=%v", info, ok)
	}

	if _, ok := PG(stdErrors.New("plain")); ok {
		t.Fatal("plain errors carry no postgres info")
	}
}

func TestDumpCarriesCodeAndChain(t *testing.T) {
	cause := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	err := Wrap(CodeGatewayUnavailable, cause, "provider timeout")

	d := Dump(err)
	if d.Code != CodeGatewayUnavailable || !d.Retryable {
		t.Fatalf("unexpected code/retryable %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
	if d.PGInfo.Code != "40001" {
		t.Fatalf("pg code = %q", d.PGInfo.Code)
	}
	if Dump(nil).TopMessage != "" {
		t.Fatal("nil error dumps empty")
	}
}
