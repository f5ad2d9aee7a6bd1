// Package adapter lets several editor integrations share one bridge core.
//
// An Adapter exposes capability-scoped contracts (context, file, workspace,
// auth) and may own a transport. A Registry holds adapters by id, tracks the
// active one and drives their lifecycle in parallel:
//
//	reg := adapter.NewRegistry(adapter.WithRegistryLogger(logger))
//	reg.Register("vscode", vscodeAdapter)
//	reg.InitializeAll(ctx)
//	defer reg.DisposeAll(ctx)
//
//	id, a, err := adapter.Resolve(reg, protocol.OpReadFile)
//
// BaseAdapter implements the lifecycle once; concrete adapters supply
// contract factories and hooks.
package adapter
