package surrealdb

import (
	"testing"

	"github.com/bobmcallan/papertrade/internal/common"
	tcommon "github.com/bobmcallan/papertrade/tests/common"
	surreal "github.com/surrealdb/surrealdb.go"
)

// testDB returns a client against the shared test container, isolated in a
// database unique to this test.
func testDB(t *testing.T) *surreal.DB {
	t.Helper()
	return tcommon.ConnectTestDatabase(t, "papertrade_test")
}

// testLogger returns a silent logger for tests.
func testLogger() *common.Logger {
	return common.NewSilentLogger()
}
