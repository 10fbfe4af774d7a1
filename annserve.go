// Package annserve serves approximate-nearest-neighbor queries against
// named, versioned vector indexes.
//
// Indexes are built upstream, archived as tar artifacts and loaded into
// immutable versions. The Registry owns the name -> active-version mapping
// and hot-swaps new versions in without interrupting in-flight reads; the
// Engine resolves single-index and cross-index queries against whatever
// version is active at the moment the query starts.
//
// # Quick Start
//
//	store := blobstore.NewLocalStore("/srv/artifacts")
//	l := loader.NewTarLoader(store, map[string]string{
//	    "INDEX-0": "index-0.tar.gz",
//	    "INDEX-1": "index-1.tar.gz",
//	})
//
//	registry := annserve.NewRegistry(l)
//	if err := registry.Add(ctx, "INDEX-0"); err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := annserve.NewEngine(registry)
//	recs, err := engine.QuerySingle(ctx, "INDEX-0", "123", 10, annserve.QueryOptions{
//	    IncludeDistances: true,
//	})
//
// Refreshing an index is non-blocking for readers:
//
//	if err := registry.Refresh(ctx, "INDEX-0"); err != nil {
//	    // the previous version keeps serving
//	}
//
// Cross-index queries source the vector from one index and search another:
//
//	recs, err := engine.QueryCross(ctx, "INDEX-0", "123", "CATALOG", 10, annserve.QueryOptions{})
package annserve
