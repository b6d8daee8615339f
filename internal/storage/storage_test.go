package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/deciolog/deciolog/internal/storage"
	"github.com/deciolog/deciolog/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	testDB = db

	os.Exit(m.Run())
}
