package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cases := []struct {
		desc string
		opt  Option
		want string
		err  bool
	}{
		{desc: "conn string wins", opt: Option{ConnString: "postgres://x/y", Database: "z"}, want: "postgres://x/y"},
		{desc: "defaults", opt: Option{Database: "intraday"}, want: "postgres://localhost:5432/intraday?sslmode=disable"},
		{
			desc: "credentials and params",
			opt:  Option{Host: "db", Port: 6543, User: "u", Password: "p", Database: "d", Params: map[string]string{"application_name": "trader", "": "x"}},
			want: "postgres://u:p@db:6543/d?application_name=trader&sslmode=disable",
		},
		{desc: "missing database", opt: Option{Host: "db"}, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := tc.opt.dsn()
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFromURL(t *testing.T) {
	assert.Equal(t, Option{Driver: DriverSQLite, Path: "/tmp/a.db"}, FromURL("sqlite:///tmp/a.db"))
	assert.Equal(t, DriverSQLite, FromURL("file::memory:").Driver)
	assert.Equal(t, Option{Driver: DriverPostgres, ConnString: "postgres://u@h/d"}, FromURL("postgres://u@h/d"))
}

func TestNewSQLite(t *testing.T) {
	c, err := New(Option{Driver: DriverSQLite, Path: "file:conn_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DriverSQLite, c.Driver())
	require.NoError(t, c.DB().Exec("SELECT 1").Error)

	_, err = New(Option{Driver: "mysql"})
	require.Error(t, err)

	var nilClient *Client
	assert.Nil(t, nilClient.DB())
	assert.NoError(t, nilClient.Close())
}
