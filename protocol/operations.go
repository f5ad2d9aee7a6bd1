package protocol

// Operation names a request kind. The set is closed; every operation maps
// to exactly one adapter contract.
type Operation string

const (
	OpGetContext       Operation = "GET_CONTEXT"
	OpGetActiveFile    Operation = "GET_ACTIVE_FILE"
	OpGetSelection     Operation = "GET_SELECTION"
	OpGetDiagnostics   Operation = "GET_DIAGNOSTICS"
	OpReadFile         Operation = "READ_FILE"
	OpWriteFile        Operation = "WRITE_FILE"
	OpListFiles        Operation = "LIST_FILES"
	OpGetFileTree      Operation = "GET_FILE_TREE"
	OpGetWorkspaceInfo Operation = "GET_WORKSPACE_INFO"
	OpAuthenticate     Operation = "AUTHENTICATE"
	OpRefreshToken     Operation = "REFRESH_TOKEN"
	OpValidateToken    Operation = "VALIDATE_TOKEN"
	OpPing             Operation = "PING"
)

// ContractKind names the adapter capability group an operation belongs to.
type ContractKind string

const (
	ContractContext   ContractKind = "context"
	ContractFile      ContractKind = "file"
	ContractWorkspace ContractKind = "workspace"
	ContractAuth      ContractKind = "auth"
	ContractSystem    ContractKind = "system"
)

// OperationInfo describes one entry of the operation table.
type OperationInfo struct {
	Name        Operation    `json:"name"`
	Contract    ContractKind `json:"contract"`
	Description string       `json:"description"`
}

var operationTable = []OperationInfo{
	{OpGetContext, ContractContext, "aggregate workspace, active file, selection and diagnostics"},
	{OpGetActiveFile, ContractContext, "content of the focused editor"},
	{OpGetSelection, ContractContext, "current selection in the focused editor"},
	{OpGetDiagnostics, ContractContext, "problems reported by the editor"},
	{OpReadFile, ContractFile, "read a workspace file"},
	{OpWriteFile, ContractFile, "replace a workspace file"},
	{OpListFiles, ContractFile, "list workspace files"},
	{OpGetFileTree, ContractFile, "directory tree of the workspace"},
	{OpGetWorkspaceInfo, ContractWorkspace, "name and folders of the open workspace"},
	{OpAuthenticate, ContractAuth, "exchange credentials for a session token"},
	{OpRefreshToken, ContractAuth, "extend a session token"},
	{OpValidateToken, ContractAuth, "check a session token"},
	{OpPing, ContractSystem, "liveness round trip"},
}

// OperationTable returns a copy of the operation table.
func OperationTable() []OperationInfo {
	return append([]OperationInfo(nil), operationTable...)
}

// Operations lists every operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, len(operationTable))
	for i, e := range operationTable {
		ops[i] = e.Name
	}
	return ops
}

// OperationNames lists every operation name, for capability lists.
func OperationNames() []string {
	names := make([]string, len(operationTable))
	for i, e := range operationTable {
		names[i] = string(e.Name)
	}
	return names
}

// IsSupportedOperation reports whether name is an operation of the protocol.
func IsSupportedOperation(name string) bool {
	return Operation(name).Known()
}

// Known reports whether op is part of the protocol.
func (op Operation) Known() bool {
	_, ok := op.Contract()
	return ok
}

// Contract returns the contract kind op belongs to.
func (op Operation) Contract() (ContractKind, bool) {
	for _, e := range operationTable {
		if e.Name == op {
			return e.Contract, true
		}
	}
	return "", false
}

// OperationsFor lists the operations served by a contract kind.
func OperationsFor(kind ContractKind) []Operation {
	var ops []Operation
	for _, e := range operationTable {
		if e.Contract == kind {
			ops = append(ops, e.Name)
		}
	}
	return ops
}

// NegotiateCapabilities returns the client capabilities the server also
// offers, in client order and without duplicates.
func NegotiateCapabilities(client, server []string) []string {
	offered := make(map[string]bool, len(server))
	for _, c := range server {
		offered[c] = true
	}
	seen := make(map[string]bool, len(client))
	agreed := []string{}
	for _, c := range client {
		if offered[c] && !seen[c] {
			agreed = append(agreed, c)
			seen[c] = true
		}
	}
	return agreed
}
