package api

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChayaSt/QCFractal/pkg/storage"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

func startTestServer(t *testing.T, cfg storage.Config) (*Server, *storage.BoltSocket) {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "test.fractal.db")
	}
	socket, err := storage.NewBoltSocket(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close() })

	srv := NewServer(socket, Config{Address: "127.0.0.1:0", Name: "test-server", Version: "0.0.0"})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, socket
}

// wireClient frames requests by line over one long-lived connection,
// the way a real client does.
type wireClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTest(t *testing.T, addr string) *wireClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wireClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *wireClient) call(op, username, password string, args interface{}) *Response {
	c.t.Helper()
	req := Request{Operation: op, Username: username, Password: password}
	if args != nil {
		raw, err := json.Marshal(args)
		require.NoError(c.t, err)
		req.Args = raw
	}
	return c.send(&req)
}

func (c *wireClient) send(req *Request) *Response {
	c.t.Helper()
	frame, err := json.Marshal(req)
	require.NoError(c.t, err)
	_, err = c.conn.Write(append(frame, '\n'))
	require.NoError(c.t, err)
	return c.read()
}

func (c *wireClient) read() *Response {
	c.t.Helper()
	line, err := c.r.ReadBytes('\n')
	require.NoError(c.t, err)
	var resp Response
	require.NoError(c.t, json.Unmarshal(line, &resp))
	return &resp
}

func decodeData(t *testing.T, resp *Response, v interface{}) {
	t.Helper()
	require.True(t, resp.Meta.Success, "unexpected failure: %s", resp.Meta.ErrorDescription)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func testMolecule() *types.Molecule {
	return &types.Molecule{
		Name:    "water",
		Symbols: []string{"O", "H", "H"},
		Geometry: []float64{
			0, 0, 0.1173,
			0, 0.7572, -0.4692,
			0, -0.7572, -0.4692,
		},
	}
}

func TestInformation(t *testing.T) {
	srv, socket := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call(OpInformation, "", "", nil)
	var info InformationData
	decodeData(t, resp, &info)
	assert.Equal(t, "test-server", info.Name)
	assert.Equal(t, "0.0.0", info.Version)
	assert.Equal(t, socket.MaxLimit(), info.QueryLimit)
}

func TestUnknownOperation(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call("teleport", "", "", nil)
	assert.False(t, resp.Meta.Success)
	assert.Contains(t, resp.Meta.ErrorDescription, "unknown operation")
}

// TestMalformedFrame verifies a bad line gets an error response without
// poisoning the connection for the next request.
func TestMalformedFrame(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	_, err := c.conn.Write([]byte("{not json\n"))
	require.NoError(t, err)
	resp := c.read()
	assert.False(t, resp.Meta.Success)
	assert.Contains(t, resp.Meta.ErrorDescription, "invalid request JSON")

	resp = c.call(OpInformation, "", "", nil)
	assert.True(t, resp.Meta.Success)
}

func TestMissingArgs(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call(OpGetMolecules, "", "", nil)
	assert.False(t, resp.Meta.Success)
	assert.Contains(t, resp.Meta.ErrorDescription, "requires args")
}

func TestAuthentication(t *testing.T) {
	srv, socket := startTestServer(t, storage.Config{})

	added, err := socket.AddUser("reader", "bookworm", []string{types.PermissionRead})
	require.NoError(t, err)
	require.True(t, added)
	added, err = socket.AddUser("root", "toor", []string{types.PermissionAdmin})
	require.NoError(t, err)
	require.True(t, added)

	c := dialTest(t, srv.Addr())

	t.Run("unknown user", func(t *testing.T) {
		resp := c.call(OpInformation, "nobody", "nothing", nil)
		assert.False(t, resp.Meta.Success)
		assert.Equal(t, "User not found.", resp.Meta.ErrorDescription)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := c.call(OpInformation, "reader", "wrong", nil)
		assert.False(t, resp.Meta.Success)
		assert.Equal(t, "Incorrect password.", resp.Meta.ErrorDescription)
	})

	t.Run("permission honored", func(t *testing.T) {
		resp := c.call(OpInformation, "reader", "bookworm", nil)
		assert.True(t, resp.Meta.Success)
	})

	t.Run("insufficient permission", func(t *testing.T) {
		resp := c.call(OpQueueGetNext, "reader", "bookworm", QueueNextArgs{Limit: 1})
		assert.False(t, resp.Meta.Success)
		assert.Equal(t, "User has insufficient permissions.", resp.Meta.ErrorDescription)
	})

	t.Run("admin implies all", func(t *testing.T) {
		resp := c.call(OpQueueGetNext, "root", "toor", QueueNextArgs{Limit: 1})
		assert.True(t, resp.Meta.Success)

		resp = c.call(OpAddMolecules, "root", "toor", MoleculeAddArgs{
			Data: map[string]*types.Molecule{"w": testMolecule()},
		})
		assert.True(t, resp.Meta.Success)
		assert.Equal(t, 1, resp.Meta.NInserted)
	})
}

func TestMoleculeRoundTrip(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call(OpAddMolecules, "", "", MoleculeAddArgs{
		Data: map[string]*types.Molecule{"w": testMolecule()},
	})
	var ids map[string]string
	decodeData(t, resp, &ids)
	assert.Equal(t, 1, resp.Meta.NInserted)
	require.NotEmpty(t, ids["w"])

	resp = c.call(OpGetMolecules, "", "", MoleculeGetArgs{Index: "id", Data: []string{ids["w"]}})
	var mols []*types.Molecule
	decodeData(t, resp, &mols)
	require.Len(t, mols, 1)
	assert.Equal(t, 1, resp.Meta.NFound)
	assert.Equal(t, "water", mols[0].Name)
	assert.Equal(t, []string{"O", "H", "H"}, mols[0].Symbols)

	t.Run("storage error becomes envelope failure", func(t *testing.T) {
		resp := c.call(OpGetMolecules, "", "", MoleculeGetArgs{Index: "formula", Data: []string{ids["w"]}})
		assert.False(t, resp.Meta.Success)
		assert.NotEmpty(t, resp.Meta.ErrorDescription)
	})

	resp = c.call(OpDelMolecules, "", "", MoleculeGetArgs{Index: "id", Data: []string{ids["w"]}})
	var count CountData
	decodeData(t, resp, &count)
	assert.Equal(t, 1, count.N)
}

// TestTaskLifecycle walks the compute flow a manager drives, entirely
// over the wire: record, task, lease, write-back, completion,
// heartbeat.
func TestTaskLifecycle(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call(OpAddResults, "", "", ResultAddArgs{
		Data: []*types.Result{{
			Program:  "psi4",
			Driver:   "energy",
			Method:   "b3lyp",
			Basis:    "cc-pvdz",
			Options:  "default",
			Molecule: "mol-1",
			Status:   types.RecordStatusIncomplete,
		}},
	})
	var resultIDs []string
	decodeData(t, resp, &resultIDs)
	require.NotEmpty(t, resultIDs[0])
	ref := types.RecordRef{Kind: types.RecordKindResults, ID: resultIDs[0]}

	resp = c.call(OpQueueSubmit, "", "", QueueSubmitArgs{
		Data: []*types.Task{{BaseResult: ref, Tag: "fast"}},
	})
	var taskIDs []string
	decodeData(t, resp, &taskIDs)
	assert.Equal(t, 1, resp.Meta.NInserted)
	require.NotEmpty(t, taskIDs[0])

	resp = c.call(OpQueueGetNext, "", "", QueueNextArgs{Limit: 10, Tag: "fast"})
	var leased []*types.Task
	decodeData(t, resp, &leased)
	require.Len(t, leased, 1)
	assert.Equal(t, 1, resp.Meta.NFound)
	assert.Equal(t, taskIDs[0], leased[0].ID)
	assert.Equal(t, types.TaskStatusRunning, leased[0].Status)

	resp = c.call(OpUpdateRecord, "", "", RecordUpdateArgs{
		Ref:     ref,
		Payload: json.RawMessage(`{"properties":{"scf_total_energy":-76.026}}`),
	})
	assert.True(t, resp.Meta.Success)

	resp = c.call(OpQueueMarkComplete, "", "", IDListArgs{IDs: taskIDs})
	var count CountData
	decodeData(t, resp, &count)
	assert.Equal(t, 1, count.N)

	resp = c.call(OpRecordStatus, "", "", RecordStatusArgs{Ref: ref})
	var status RecordStatusData
	decodeData(t, resp, &status)
	assert.Equal(t, types.RecordStatusComplete, status.Status)

	resp = c.call(OpQueueGet, "", "", QueueGetArgs{IDs: taskIDs})
	var tasks []*types.Task
	decodeData(t, resp, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.TaskStatusComplete, tasks[0].Status)

	resp = c.call(OpManagerUpdate, "", "", ManagerUpdateArgs{
		Name:    "mgr-test",
		Cluster: "hpc1",
		Counts:  types.ManagerCounts{Submitted: 1, Completed: 1},
	})
	var mu ManagerUpdateData
	decodeData(t, resp, &mu)
	assert.False(t, mu.Existed)

	resp = c.call(OpGetManagers, "", "", nil)
	var managers []*types.Manager
	decodeData(t, resp, &managers)
	require.Len(t, managers, 1)
	assert.Equal(t, "mgr-test", managers[0].Name)
	assert.Equal(t, 1, managers[0].Submitted)
}

func TestHooksOverWire(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call(OpAddServices, "", "", ServiceAddArgs{
		Data: []types.ServiceDocument{{"hash_index": "svc-1", "iteration": float64(1)}},
	})
	var svcIDs []string
	decodeData(t, resp, &svcIDs)
	require.NotEmpty(t, svcIDs[0])

	resp = c.call(OpHandleHooks, "", "", HookArgs{
		Data: []types.Hook{{
			Document: types.DocumentRef{Collection: types.CollectionServiceQueue, ID: svcIDs[0]},
			Updates:  []types.FieldUpdate{{Op: types.UpdateInc, Field: "iteration", Value: 1}},
		}},
	})
	assert.True(t, resp.Meta.Success)

	resp = c.call(OpGetServices, "", "", ServiceQueryArgs{ID: svcIDs})
	var svcs []types.ServiceDocument
	decodeData(t, resp, &svcs)
	require.Len(t, svcs, 1)
	assert.Equal(t, float64(2), svcs[0]["iteration"])
}

func TestStopIdempotent(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

// TestStopClosesIdleConnections verifies Stop returns even when a
// connected client sits idle between requests, which is the steady
// state of a remote manager between update ticks.
func TestStopClosesIdleConnections(t *testing.T) {
	srv, _ := startTestServer(t, storage.Config{BypassSecurity: true})
	c := dialTest(t, srv.Addr())

	resp := c.call(OpInformation, "", "", nil)
	require.True(t, resp.Meta.Success)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a client connection stayed open")
	}

	// The server hung up on us; the next read reports it.
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := c.r.ReadBytes('\n')
	assert.Error(t, err)
}

func writeTestCertPair(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"qcfractal-test"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile,
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestTLSRoundTrip(t *testing.T) {
	socket, err := storage.NewBoltSocket(storage.Config{
		Path:           filepath.Join(t.TempDir(), "test.fractal.db"),
		BypassSecurity: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close() })

	srv := NewServer(socket, Config{Address: "127.0.0.1:0", Name: "tls-test", Version: "0.0.0"})
	certFile, keyFile := writeTestCertPair(t)
	require.NoError(t, srv.SetTLSConfig(certFile, keyFile))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	conn, err := tls.Dial("tcp", srv.Addr(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wireClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	resp := c.call(OpInformation, "", "", nil)
	var info InformationData
	decodeData(t, resp, &info)
	assert.Equal(t, "tls-test", info.Name)
}

func TestSetTLSConfigMissingFiles(t *testing.T) {
	socket, err := storage.NewBoltSocket(storage.Config{
		Path: filepath.Join(t.TempDir(), "test.fractal.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close() })

	srv := NewServer(socket, Config{Address: "127.0.0.1:0"})
	err = srv.SetTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS certificate")
}
