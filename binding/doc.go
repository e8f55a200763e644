// Package binding is the transport core shared by every wire encoding.
//
// A Session holds endpoint configuration, an auth.Provider and a lazily
// populated cache of connection handles, one per cmis.LogicalService. Handles
// are built by a Factory; the rpcstub, restxml and httpjson subpackages each
// provide one. A Dispatcher routes a Call through the session's handle for a
// service and consults the auth.Provider around it:
//
//	sess := binding.NewSession(config.Single(url), httpjson.New(),
//	    binding.WithAuthProvider(auth.NewStandard("alice", "secret")),
//	)
//	defer sess.Close()
//
//	d := binding.NewDispatcher(sess)
//	reply, err := d.Do(ctx, cmis.ObjectService, &binding.Call{
//	    Operation:    binding.OpGetObject,
//	    RepositoryID: "repo",
//	    ObjectID:     id,
//	})
//
// Errors returned by this package carry a cmis.Kind: construction failures
// are cmis.KindConnection, and handles report remote faults with the kind
// named by the server.
package binding
