package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/executor"
	"github.com/fortiblox/bci/pkg/programstore"
	"github.com/fortiblox/bci/pkg/runlog"
	"github.com/fortiblox/bci/pkg/vm"
	"github.com/mr-tron/base58"
)

// Helper function to create a test server backed by real stores.
func newTestServer(t *testing.T) (*Server, *programstore.BoltStore, *runlog.Journal) {
	t.Helper()

	programs, err := programstore.Open(programstore.DefaultConfig(filepath.Join(t.TempDir(), "programs.db")))
	if err != nil {
		t.Fatalf("Failed to open program store: %v", err)
	}
	t.Cleanup(func() { programs.Close() })

	journal, err := runlog.Open(runlog.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	exec := executor.New(executor.DefaultConfig(), programs, journal)

	config := DefaultConfig()
	config.Addr = ":0"

	return New(config, exec, programs, journal), programs, journal
}

// Helper function to make an RPC request.
func makeRPCRequest(t *testing.T, server *Server, method string, params interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			t.Fatalf("Failed to marshal params: %v", err)
		}
	}

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  method,
		Params:  paramsRaw,
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	return &resp
}

// decodeResult re-marshals a generic result into out.
func decodeResult(t *testing.T, resp *Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
}

func program(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func push(n int32) []byte { return vm.Encode(nil, vm.OpPush, n) }

var (
	opPrint = []byte{byte(vm.OpPrint)}
	opStop  = []byte{byte(vm.OpStop)}
	opSub   = []byte{byte(vm.OpSub)}
	opDiv   = []byte{byte(vm.OpDiv)}
)

func b64(code []byte) string { return base64.StdEncoding.EncodeToString(code) }

// Test getHealth
func TestGetHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "getHealth", nil)
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	if result, ok := resp.Result.(string); !ok || result != "ok" {
		t.Errorf("Expected 'ok', got: %v", resp.Result)
	}

	server.SetHealthy(false)
	resp = makeRPCRequest(t, server, "getHealth", nil)
	if resp.Error == nil || resp.Error.Code != ServiceUnhealthy {
		t.Errorf("Expected ServiceUnhealthy, got: %v", resp.Error)
	}
}

// Test getVersion
func TestGetVersion(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "getVersion", nil)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map result, got: %T", resp.Result)
	}
	if result["bci-core"] != CoreVersion {
		t.Errorf("Expected %s, got: %v", CoreVersion, result["bci-core"])
	}
}

func TestRunProgram(t *testing.T) {
	server, _, journal := newTestServer(t)

	code := program(push(5), push(3), opSub, opPrint, opStop)
	resp := makeRPCRequest(t, server, "runProgram", []interface{}{b64(code)})

	var result RunResult
	decodeResult(t, resp, &result)

	if result.Status != "completed" {
		t.Errorf("Expected completed, got: %s", result.Status)
	}
	if len(result.Output) != 1 || result.Output[0] != "2" {
		t.Errorf("Expected output [2], got: %v", result.Output)
	}
	if result.ProgramID != types.ProgramIDFromCode(code) {
		t.Errorf("Unexpected programId: %v", result.ProgramID)
	}
	if result.RunID == 0 || journal.Count() != 1 {
		t.Errorf("Expected run to be journaled, runId=%d count=%d", result.RunID, journal.Count())
	}
	if len(result.Registers) != vm.NumRegs {
		t.Errorf("Expected %d registers, got %d", vm.NumRegs, len(result.Registers))
	}
}

func TestRunProgramFault(t *testing.T) {
	server, _, _ := newTestServer(t)

	code := program(push(3), push(0), opDiv, opPrint, opStop)
	resp := makeRPCRequest(t, server, "runProgram", []interface{}{b64(code)})

	var result RunResult
	decodeResult(t, resp, &result)

	if result.Status != "faulted" || result.Fault == nil {
		t.Fatalf("Expected fault, got: %+v", result)
	}
	if result.Fault.Kind != "DivideByZero" || result.Fault.IP != 10 || result.Fault.Opcode != "DIV" {
		t.Errorf("Unexpected fault: %+v", result.Fault)
	}
	if len(result.Output) != 0 {
		t.Errorf("Expected no output, got: %v", result.Output)
	}
}

func TestGetRunFaultAtZero(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "runProgram", []interface{}{b64([]byte{byte(vm.OpPop), byte(vm.OpStop)})})
	var result RunResult
	decodeResult(t, resp, &result)
	if result.Fault == nil || result.Fault.IP != 0 {
		t.Fatalf("Unexpected fault: %+v", result.Fault)
	}

	resp = makeRPCRequest(t, server, "getRun", []interface{}{result.RunID})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	if !strings.Contains(string(data), `"faultIp":0`) {
		t.Errorf("getRun result %s lacks faultIp", data)
	}
}

func TestRunProgramEncodings(t *testing.T) {
	server, _, _ := newTestServer(t)

	code := program(push(99), opPrint, opStop)
	zstdData, err := compressZstd(code)
	if err != nil {
		t.Fatalf("compressZstd() error = %v", err)
	}

	tests := []struct {
		name     string
		encoded  string
		encoding Encoding
	}{
		{"default", b64(code), ""},
		{"base64", b64(code), EncodingBase64},
		{"base58", base58.Encode(code), EncodingBase58},
		{"base64+zstd", base64.StdEncoding.EncodeToString(zstdData), EncodingBase64Zstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := makeRPCRequest(t, server, "runProgram", []interface{}{
				tt.encoded, RunConfig{Encoding: tt.encoding},
			})
			var result RunResult
			decodeResult(t, resp, &result)
			if len(result.Output) != 1 || result.Output[0] != "99" {
				t.Errorf("Expected output [99], got: %v", result.Output)
			}
		})
	}
}

func TestRunProgramInvalidParams(t *testing.T) {
	server, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		params interface{}
	}{
		{"missing program", []interface{}{}},
		{"not a string", []interface{}{42}},
		{"bad base64", []interface{}{"!!!"}},
		{"bad encoding", []interface{}{"AA==", map[string]string{"encoding": "hex"}}},
		{"bad config", []interface{}{"AA==", "config"}},
		{"params object", map[string]string{"program": "AA=="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := makeRPCRequest(t, server, "runProgram", tt.params)
			if resp.Error == nil || resp.Error.Code != InvalidParams {
				t.Errorf("Expected InvalidParams, got: %v", resp.Error)
			}
		})
	}
}

func TestRunProgramMaxSteps(t *testing.T) {
	server, _, _ := newTestServer(t)

	loop := vm.Encode(nil, vm.OpJmp, 0)
	resp := makeRPCRequest(t, server, "runProgram", []interface{}{b64(loop), RunConfig{MaxSteps: 50}})

	var result RunResult
	decodeResult(t, resp, &result)
	if result.Fault == nil || result.Fault.Kind != "StepLimitExceeded" || result.Steps != 50 {
		t.Errorf("Expected StepLimitExceeded after 50 steps, got: %+v", result)
	}
}

func TestProgramLifecycle(t *testing.T) {
	server, programs, _ := newTestServer(t)

	code := program(push(7), opPrint, opStop)
	resp := makeRPCRequest(t, server, "putProgram", []interface{}{b64(code), PutProgramConfig{Name: "seven"}})

	var put PutProgramResult
	decodeResult(t, resp, &put)
	if put.ProgramID != types.ProgramIDFromCode(code) {
		t.Fatalf("Unexpected programId: %v", put.ProgramID)
	}
	if !programs.Has(put.ProgramID) {
		t.Fatal("Program not stored")
	}

	resp = makeRPCRequest(t, server, "getProgram", []interface{}{put.ProgramID.String(), ProgramConfig{Encoding: EncodingBase58}})
	var info ProgramInfo
	decodeResult(t, resp, &info)
	if info.Name != "seven" || info.Size != len(code) {
		t.Errorf("Unexpected program info: %+v", info)
	}
	if len(info.Data) != 2 || info.Data[1] != "base58" {
		t.Fatalf("Unexpected data: %v", info.Data)
	}
	decoded, err := base58.Decode(info.Data[0])
	if err != nil || !bytes.Equal(decoded, code) {
		t.Errorf("Data does not round trip: %v", err)
	}

	resp = makeRPCRequest(t, server, "getPrograms", nil)
	var list []ProgramSummary
	decodeResult(t, resp, &list)
	if len(list) != 1 || list[0].ProgramID != put.ProgramID {
		t.Errorf("Unexpected program list: %+v", list)
	}

	// Run it twice and list runs.
	for i := 0; i < 2; i++ {
		resp = makeRPCRequest(t, server, "runStoredProgram", []interface{}{put.ProgramID.String()})
		var result RunResult
		decodeResult(t, resp, &result)
		if result.Output[0] != "7" {
			t.Errorf("Expected output [7], got: %v", result.Output)
		}
	}

	resp = makeRPCRequest(t, server, "getProgramRuns", []interface{}{put.ProgramID.String(), ListConfig{Limit: 1}})
	var runs []RunRecord
	decodeResult(t, resp, &runs)
	if len(runs) != 1 || runs[0].ID != 2 {
		t.Errorf("Expected newest run only, got: %+v", runs)
	}

	resp = makeRPCRequest(t, server, "getRun", []interface{}{1})
	var rec RunRecord
	decodeResult(t, resp, &rec)
	if rec.ID != 1 || rec.ProgramID != put.ProgramID || rec.Status != "completed" {
		t.Errorf("Unexpected run record: %+v", rec)
	}
	if rec.OutputDigest != types.OutputDigest([]string{"7"}) {
		t.Error("Unexpected output digest")
	}

	resp = makeRPCRequest(t, server, "deleteProgram", []interface{}{put.ProgramID.String()})
	if resp.Error != nil || resp.Result != true {
		t.Errorf("deleteProgram failed: %v", resp.Error)
	}
	resp = makeRPCRequest(t, server, "getProgram", []interface{}{put.ProgramID.String()})
	if resp.Error == nil || resp.Error.Code != ProgramNotFound {
		t.Errorf("Expected ProgramNotFound, got: %v", resp.Error)
	}
}

func TestNotFoundErrors(t *testing.T) {
	server, _, _ := newTestServer(t)
	missing := types.ProgramIDFromCode(opStop).String()

	tests := []struct {
		method string
		params interface{}
		code   int
	}{
		{"getProgram", []interface{}{missing}, ProgramNotFound},
		{"runStoredProgram", []interface{}{missing}, ProgramNotFound},
		{"deleteProgram", []interface{}{missing}, ProgramNotFound},
		{"getRun", []interface{}{12345}, RunNotFound},
		{"getProgram", []interface{}{"not-base58!"}, InvalidParams},
		{"getRun", []interface{}{"one"}, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp := makeRPCRequest(t, server, tt.method, tt.params)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("Expected code %d, got: %v", tt.code, resp.Error)
			}
		})
	}
}

func TestPutProgramInvalid(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "putProgram", []interface{}{""})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("Expected InvalidParams for empty program, got: %v", resp.Error)
	}
}

func TestDisassemble(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "disassemble", []interface{}{b64(program(push(1), opPrint, opStop))})
	var lines []string
	decodeResult(t, resp, &lines)

	want := []string{"0000: PUSH 1", "0005: PRINT", "0006: STOP"}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("Unexpected listing: %v", lines)
	}
}

func TestGetStats(t *testing.T) {
	server, _, _ := newTestServer(t)

	makeRPCRequest(t, server, "putProgram", []interface{}{b64(program(push(1), opPrint, opStop))})
	makeRPCRequest(t, server, "runProgram", []interface{}{b64(opStop)})
	makeRPCRequest(t, server, "runProgram", []interface{}{b64(opDiv)})

	resp := makeRPCRequest(t, server, "getStats", nil)
	var stats Stats
	decodeResult(t, resp, &stats)

	if stats.ProgramCount != 1 || stats.RunCount != 2 || stats.Completed != 1 || stats.Faulted != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestStorageUnavailable(t *testing.T) {
	exec := executor.New(executor.DefaultConfig(), nil, nil)
	server := New(DefaultConfig(), exec, nil, nil)

	for _, method := range []string{"putProgram", "getProgram", "getPrograms", "getRun", "getProgramRuns"} {
		resp := makeRPCRequest(t, server, method, []interface{}{"x"})
		if resp.Error == nil || resp.Error.Code != StorageUnavailable {
			t.Errorf("%s: expected StorageUnavailable, got: %v", method, resp.Error)
		}
	}

	resp := makeRPCRequest(t, server, "runProgram", []interface{}{b64(opStop), RunConfig{Save: true}})
	if resp.Error == nil || resp.Error.Code != StorageUnavailable {
		t.Errorf("runProgram save: expected StorageUnavailable, got: %v", resp.Error)
	}

	resp = makeRPCRequest(t, server, "runProgram", []interface{}{b64(opStop)})
	if resp.Error != nil {
		t.Errorf("runProgram without storage failed: %v", resp.Error)
	}
}

// Test method not found
func TestMethodNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "nonExistentMethod", nil)
	if resp.Error == nil {
		t.Fatal("Expected error for non-existent method")
	}
	if resp.Error.Code != MethodNotFound {
		t.Errorf("Expected error code %d, got: %d", MethodNotFound, resp.Error.Code)
	}
}

// Test invalid JSON
func TestInvalidJSON(t *testing.T) {
	server, _, _ := newTestServer(t)

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("invalid json")))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("Expected ParseError, got: %v", resp.Error)
	}
}

// Test invalid JSON-RPC version
func TestInvalidVersion(t *testing.T) {
	server, _, _ := newTestServer(t)

	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"getHealth"}`)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest, got: %v", resp.Error)
	}
}

// Test batch request
func TestBatchRequest(t *testing.T) {
	server, _, _ := newTestServer(t)

	requests := []Request{
		{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"},
		{JSONRPC: JSONRPCVersion, ID: 2, Method: "runProgram", Params: json.RawMessage(`["` + b64(program(push(4), opPrint, opStop)) + `"]`)},
		{JSONRPC: "1.0", ID: 3, Method: "getHealth"},
	}
	body, _ := json.Marshal(requests)

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var responses []Response
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("Failed to unmarshal batch response: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("Expected 3 responses, got: %d", len(responses))
	}
	if responses[0].Error != nil || responses[1].Error != nil {
		t.Errorf("Unexpected errors: %v, %v", responses[0].Error, responses[1].Error)
	}
	if responses[2].Error == nil || responses[2].Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest for third request, got: %v", responses[2].Error)
	}
}

// Test that only POST is accepted
func TestMethodNotAllowed(t *testing.T) {
	server, _, _ := newTestServer(t)

	httpReq := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got: %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestCORS(t *testing.T) {
	server, _, _ := newTestServer(t)

	httpReq := httptest.NewRequest(http.MethodOptions, "/", nil)
	httpReq.Header.Set("Origin", "http://example.com")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httpReq)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got: %d", http.StatusNoContent, rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Errorf("Missing CORS header")
	}
}

func TestServeAndStop(t *testing.T) {
	server, _, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"getHealth"}`)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Post("http://"+ln.Addr().String()+"/", "application/json", bytes.NewReader(body))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if rpcResp.Result != "ok" {
		t.Errorf("Expected ok, got: %v", rpcResp.Result)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestRunBatch(t *testing.T) {
	server, _, journal := newTestServer(t)

	programs := []string{
		b64(program(push(1), opPrint, opStop)),
		b64(program(push(2), opPrint, opStop)),
		b64(opDiv),
	}
	resp := makeRPCRequest(t, server, "runBatch", []interface{}{programs})

	var results []RunResult
	decodeResult(t, resp, &results)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got: %d", len(results))
	}
	if results[0].Output[0] != "1" || results[1].Output[0] != "2" {
		t.Errorf("Results out of order: %v, %v", results[0].Output, results[1].Output)
	}
	if results[2].Fault == nil || results[2].Fault.Kind != "StackUnderflow" {
		t.Errorf("Expected StackUnderflow, got: %+v", results[2].Fault)
	}
	if journal.Count() != 3 {
		t.Errorf("Expected 3 journaled runs, got: %d", journal.Count())
	}

	resp = makeRPCRequest(t, server, "runBatch", []interface{}{[]string{}})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("Expected InvalidParams for empty batch, got: %v", resp.Error)
	}
}
