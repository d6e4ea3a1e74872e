// Package shm provides cross-process shared memory mappings whose layout,
// locks and events are described inside the mapping itself.
//
// A creator declares the user data size, the locks protecting ranges of it
// and the events it needs:
//
//	cfg := shm.NewConfig().SetSize(4).SetLinkPath("/tmp/counter.link")
//	if err := cfg.AddLock(shm.Mutex, 0, 4); err != nil {
//		return err
//	}
//	m, err := cfg.Create(ctx)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	g, err := shm.WriteLock[uint32](m, 0)
//	if err != nil {
//		return err
//	}
//	g.Store(0xBADC0FEE)
//	g.Release()
//
// Any other process can then open the same mapping from the link or OS id
// alone, without knowing the declarations:
//
//	m, err := shm.NewConfig().SetLinkPath("/tmp/counter.link").Open(ctx)
//
// Only types accepted by Castable can be viewed through guards. RawMapping
// gives unsynchronized access to regions with a layout of their own.
//
// Spans and operation counts are recorded through OpenTelemetry when a
// tracer or meter is configured, and Prometheus collectors are available
// through RegisterMetrics.
package shm
