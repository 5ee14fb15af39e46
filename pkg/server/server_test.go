package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"nodebroker/pkg/cipher"
	"nodebroker/pkg/health"
	"nodebroker/pkg/index"
	"nodebroker/pkg/models"
	"nodebroker/pkg/nodeclient"
	"nodebroker/pkg/nodestore"
	"nodebroker/pkg/notify"
	"nodebroker/pkg/placement"
	"nodebroker/pkg/registry"
	"nodebroker/pkg/storagenode"

	"github.com/stretchr/testify/suite"
)

const mebibyte = 1 << 20

// switchableTransfer forwards to the real node client and can be told to fail.
type switchableTransfer struct {
	*nodeclient.Client
	failPut    atomic.Bool
	failDelete atomic.Bool
}

func (t *switchableTransfer) Put(ctx context.Context, endpoint, token, objectID string, data []byte) error {
	if t.failPut.Load() {
		return errors.New("connection reset by peer")
	}
	return t.Client.Put(ctx, endpoint, token, objectID, data)
}

func (t *switchableTransfer) Delete(ctx context.Context, endpoint, token, objectID string) error {
	if t.failDelete.Load() {
		return errors.New("connection reset by peer")
	}
	return t.Client.Delete(ctx, endpoint, token, objectID)
}

// ServerTestSuite runs the broker API against a real storage node.
type ServerTestSuite struct {
	suite.Suite
	nodes    *nodestore.Store
	index    *index.Store
	notifier *notify.Notifier
	transfer *switchableTransfer
	node     *storagenode.Server
	nodeHTTP *httptest.Server
	server   *Server
	nodeID   string
}

func (s *ServerTestSuite) SetupTest() {
	dir := s.T().TempDir()

	var err error
	s.nodes, err = nodestore.Open(filepath.Join(dir, "nodes.db"))
	s.Require().NoError(err)
	s.index, err = index.Open(filepath.Join(dir, "index.db"))
	s.Require().NoError(err)

	client, err := nodeclient.New(nodeclient.Config{
		RetryMax:       1,
		RetryWaitMin:   10 * time.Millisecond,
		RetryWaitMax:   20 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	})
	s.Require().NoError(err)
	s.transfer = &switchableTransfer{Client: client}

	payloadCipher, err := cipher.New("0123456789abcdef0123456789abcdef")
	s.Require().NoError(err)

	s.notifier = notify.New(s.index, 0)
	healthService := health.NewService(s.nodes, client, s.notifier, health.Config{
		ProbeTimeout: 2 * time.Second,
		Classifier: health.Classifier{
			LatencyThreshold: time.Second,
			OfflineAfter:     time.Hour,
			ResourceLimit:    health.DefaultResourceLimit,
			FailedAuthLimit:  health.DefaultFailedAuthLimit,
		},
	})

	orchestrator := placement.NewOrchestrator(placement.Dependencies{
		Nodes:    s.nodes,
		Files:    s.index,
		Users:    s.index,
		Transfer: s.transfer,
		Health:   healthService,
		Cipher:   payloadCipher,
	}, 10*time.Second)

	nodeRegistry := registry.New(s.nodes, s.index)

	s.server = New(Services{
		Files:    orchestrator,
		Registry: nodeRegistry,
		Nodes:    s.nodes,
		Accounts: s.index,
		Health:   healthService,
	}, Options{MaxUploadSize: 4 * mebibyte})

	s.node, err = storagenode.New(filepath.Join(dir, "node"), "", 0, func() (*models.ResourceUsage, error) {
		return &models.ResourceUsage{CPUPercent: 10, MemoryUsed: 1, MemoryTotal: 4}, nil
	})
	s.Require().NoError(err)
	s.nodeHTTP = httptest.NewServer(s.node.Handler())

	s.createUser("operator")
	s.createUser("alice")
	s.createUser("bob")
	s.nodeID = s.registerAndLogin("node-a")
}

func (s *ServerTestSuite) TearDownTest() {
	s.nodeHTTP.Close()
	s.notifier.Close()
	s.nodes.Close()
	s.index.Close()
}

func (s *ServerTestSuite) do(method, path, user string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *ServerTestSuite) doJSON(method, path, user string, payload any) *httptest.ResponseRecorder {
	body, err := json.Marshal(payload)
	s.Require().NoError(err)
	return s.do(method, path, user, bytes.NewReader(body), "application/json")
}

func (s *ServerTestSuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out))
}

func (s *ServerTestSuite) createUser(id string) {
	rec := s.doJSON(http.MethodPost, "/users", "", map[string]any{"user_id": id})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *ServerTestSuite) registerAndLogin(name string) string {
	rec := s.doJSON(http.MethodPost, "/nodes/register", "operator", map[string]any{
		"node_name": name,
		"password":  "hunter2",
		"storage":   10,
		"country":   "US",
		"city":      "Seattle",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.doJSON(http.MethodPost, "/nodes/login", "", map[string]any{
		"user_id":   "operator",
		"node_name": name,
		"password":  "hunter2",
		"endpoint":  s.nodeHTTP.URL,
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var login loginResponse
	s.decode(rec, &login)
	s.node.SetToken(login.Token)
	return login.NodeID
}

func (s *ServerTestSuite) upload(user, filename string, content []byte) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	s.Require().NoError(err)
	_, err = part.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(writer.Close())

	return s.do(http.MethodPost, "/files/upload", user, body, writer.FormDataContentType())
}

func (s *ServerTestSuite) storedNode() *models.Node {
	node, err := s.nodes.Get(context.Background(), s.nodeID)
	s.Require().NoError(err)
	return node
}

func (s *ServerTestSuite) usedStorage(user string) int64 {
	account, err := s.index.GetUser(context.Background(), user)
	s.Require().NoError(err)
	return account.UsedStorage
}

func (s *ServerTestSuite) fileCount(user string) int {
	files, err := s.index.ListByOwner(context.Background(), user)
	s.Require().NoError(err)
	return len(files)
}

func (s *ServerTestSuite) TestRoutes() {
	paths := map[string]bool{}
	for _, route := range s.server.echo.Routes() {
		paths[route.Method+" "+route.Path] = true
	}

	for _, expected := range []string{
		"POST /users",
		"POST /nodes/register",
		"POST /nodes/login",
		"GET /nodes",
		"GET /nodes/mine",
		"GET /nodes/:id",
		"GET /nodes/:id/ping",
		"DELETE /nodes/:id",
		"POST /files/upload",
		"GET /files",
		"GET /files/shared",
		"GET /files/search",
		"GET /files/:id",
		"GET /files/:id/view",
		"GET /files/:id/download",
		"DELETE /files/:id",
		"POST /files/:id/share",
		"DELETE /files/:id/share/:userId",
		"PUT /files/:id/name",
		"GET /notifications",
		"POST /notifications/:id/resolve",
	} {
		s.True(paths[expected], expected)
	}
}

func (s *ServerTestSuite) TestRequiresIdentity() {
	rec := s.do(http.MethodGet, "/files", "", nil, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ServerTestSuite) TestUploadAndDownload() {
	content := bytes.Repeat([]byte("a"), mebibyte)

	rec := s.upload("alice", "report.pdf", content)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var result models.OperationResult
	s.decode(rec, &result)
	s.True(result.Success)
	s.NotEmpty(result.FileID)

	node := s.storedNode()
	s.Equal(int64(mebibyte), node.AllocatedFileStorage.Used)
	s.Equal(int64(5<<30), node.AllocatedFileStorage.Quota())
	s.Equal(int64(mebibyte), s.usedStorage("alice"))
	s.Equal(1, s.fileCount("alice"))

	rec = s.do(http.MethodGet, "/files/"+result.FileID+"/download", "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(content, rec.Body.Bytes())
	s.Equal("application/pdf", rec.Header().Get("Content-Type"))
	s.Contains(rec.Header().Get("Content-Disposition"), "attachment")

	rec = s.do(http.MethodGet, "/files/"+result.FileID+"/view", "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Get("Content-Disposition"), "inline")

	rec = s.do(http.MethodGet, "/files/"+result.FileID+"/download", "bob", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestUploadTransferFailure() {
	s.transfer.failPut.Store(true)

	rec := s.upload("alice", "report.pdf", []byte("content"))
	s.Equal(http.StatusBadGateway, rec.Code)

	var result models.OperationResult
	s.decode(rec, &result)
	s.False(result.Success)

	s.Zero(s.fileCount("alice"))
	s.Zero(s.usedStorage("alice"))
	s.Zero(s.storedNode().AllocatedFileStorage.Used)
}

func (s *ServerTestSuite) TestUploadTooLarge() {
	rec := s.upload("alice", "big.bin", make([]byte, 5*mebibyte))
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
	s.Zero(s.fileCount("alice"))
}

func (s *ServerTestSuite) TestUploadWithNodeOffline() {
	s.nodeHTTP.Close()

	rec := s.upload("alice", "report.pdf", []byte("content"))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Zero(s.fileCount("alice"))

	node := s.storedNode()
	s.Equal(models.CriticalMedium, node.Availability.Level)
	s.Equal(models.ReasonUnavailable, node.Availability.Reason)
	s.Len(node.Downtime, 1)
}

func (s *ServerTestSuite) TestPingNode() {
	rec := s.do(http.MethodGet, "/nodes/"+s.nodeID+"/ping", "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var ping pingResponse
	s.decode(rec, &ping)
	s.Equal(s.nodeID, ping.NodeID)
	s.True(ping.IsOnline)

	s.nodeHTTP.Close()

	rec = s.do(http.MethodGet, "/nodes/"+s.nodeID+"/ping", "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &ping)
	s.False(ping.IsOnline)
	s.Equal(models.ReasonUnavailable, s.storedNode().Availability.Reason)

	rec = s.do(http.MethodGet, "/nodes/missing/ping", "alice", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestDeleteFile() {
	rec := s.upload("alice", "a.txt", []byte("hello"))
	s.Require().Equal(http.StatusCreated, rec.Code)
	var result models.OperationResult
	s.decode(rec, &result)

	rec = s.do(http.MethodDelete, "/files/"+result.FileID, "bob", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/files/"+result.FileID, "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Zero(s.fileCount("alice"))
	s.Zero(s.usedStorage("alice"))
	s.Zero(s.storedNode().AllocatedFileStorage.Used)
}

func (s *ServerTestSuite) TestDeleteRemoteFailureKeepsRecord() {
	rec := s.upload("alice", "a.txt", []byte("hello"))
	s.Require().Equal(http.StatusCreated, rec.Code)
	var result models.OperationResult
	s.decode(rec, &result)

	s.transfer.failDelete.Store(true)
	rec = s.do(http.MethodDelete, "/files/"+result.FileID, "alice", nil, "")
	s.Equal(http.StatusBadGateway, rec.Code)

	s.Equal(1, s.fileCount("alice"))
	s.Equal(int64(5), s.usedStorage("alice"))
	s.Equal(int64(5), s.storedNode().AllocatedFileStorage.Used)
}

func (s *ServerTestSuite) TestShareRenameSearch() {
	rec := s.upload("alice", "holiday.jpg", []byte("jpeg"))
	s.Require().Equal(http.StatusCreated, rec.Code)
	var result models.OperationResult
	s.decode(rec, &result)
	path := "/files/" + result.FileID

	rec = s.doJSON(http.MethodPost, path+"/share", "alice", map[string]string{"user_id": "bob"})
	s.Require().Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/files/shared", "bob", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var shared []models.FileRecord
	s.decode(rec, &shared)
	s.Len(shared, 1)

	rec = s.do(http.MethodGet, path, "bob", nil, "")
	s.Equal(http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodPut, path+"/name", "alice", map[string]string{"filename": "beach.jpg"})
	s.Require().Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/files/search?q=beach", "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var found []models.FileRecord
	s.decode(rec, &found)
	s.Require().Len(found, 1)
	s.Equal("beach.jpg", found[0].Filename)

	rec = s.do(http.MethodDelete, path+"/share/bob", "alice", nil, "")
	s.Require().Equal(http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, path, "bob", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/files", "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var files []models.FileRecord
	s.decode(rec, &files)
	s.Len(files, 1)
}

func (s *ServerTestSuite) TestNodeEndpoints() {
	rec := s.do(http.MethodGet, "/nodes/"+s.nodeID, "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var view models.NodeView
	s.decode(rec, &view)
	s.Equal("node-a", view.Name)
	s.Equal("us-west-2", view.Region)
	s.True(view.IsOnline)
	s.NotContains(rec.Body.String(), "password")
	s.NotContains(rec.Body.String(), "token")

	rec = s.do(http.MethodGet, "/nodes/mine", "operator", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var mine []models.NodeView
	s.decode(rec, &mine)
	s.Len(mine, 1)

	rec = s.doJSON(http.MethodPost, "/nodes/register", "operator", map[string]any{
		"node_name": "node-a", "password": "x", "storage": 1,
	})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.doJSON(http.MethodPost, "/nodes/login", "", map[string]any{
		"user_id": "operator", "node_name": "node-a", "password": "wrong", "endpoint": "http://x",
	})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ServerTestSuite) TestDeleteNodeRefusedWhileInUse() {
	rec := s.upload("alice", "a.txt", []byte("hello"))
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodDelete, "/nodes/"+s.nodeID, "alice", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/nodes/"+s.nodeID, "operator", nil, "")
	s.Equal(http.StatusConflict, rec.Code)

	files, err := s.index.ListByOwner(context.Background(), "alice")
	s.Require().NoError(err)
	s.Require().Len(files, 1)
	rec = s.do(http.MethodDelete, "/files/"+files[0].ID, "alice", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/nodes/"+s.nodeID, "operator", nil, "")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *ServerTestSuite) TestNotifications() {
	notification := &models.Notification{Message: "node offline", NodeID: s.nodeID, CriticalLevel: models.CriticalHigh}
	s.Require().NoError(s.index.AddNotification(context.Background(), notification))

	rec := s.do(http.MethodGet, "/notifications", "", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var open []models.Notification
	s.decode(rec, &open)
	s.Require().Len(open, 1)
	s.Equal(models.CriticalHigh, open[0].CriticalLevel)

	rec = s.do(http.MethodPost, "/notifications/"+strconv.FormatInt(notification.ID, 10)+"/resolve", "", nil, "")
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/notifications", "", nil, "")
	s.decode(rec, &open)
	s.Empty(open)

	rec = s.do(http.MethodPost, "/notifications/abc/resolve", "", nil, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, "/notifications/999/resolve", "", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestCreateUserConflict() {
	rec := s.doJSON(http.MethodPost, "/users", "", map[string]any{"user_id": "alice"})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.doJSON(http.MethodPost, "/users", "", map[string]any{"user_id": ""})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
