// Package mock provides a stand-in for the proxy under test.
//
// It honours the proxy's launch contract and metric families without
// speaking the PostgreSQL protocol: every frontend connection is paired with
// one backend connection and bytes are copied both ways. It exists so that
// the fixture packages, and feature files, can be exercised without a real
// proxy build.
//
//	err := mock.Run(ctx, mock.Config{
//		Frontend: "127.0.0.1:6432",
//		Metrics:  "127.0.0.1:9187",
//		Backend:  "host=127.0.0.1 port=5432 sslmode=prefer",
//	})
package mock
