// Package manager brings a servermanager process up and hosts the
// application.
//
// Startup is driven by four readiness signals that arrive independently:
//
//	data   the application database answered (immediate for "none")
//	cache  the cache backend verified its storage and loaded every section
//	log    the access-log sink is ready
//	web    the transports are listening (only after log)
//
// Entering cache starts the periodic flush. Entering log builds the
// transports and binds the listener, which then sets web. Once all four are
// set the application's Start runs on its own goroutine, and the future
// returned by Manager.Start resolves. Any failure on the way rejects it with
// a coded error; there is no degraded mode.
//
//	m, err := manager.New(cfg, manager.AppFunc(func(m *manager.Manager) error {
//		m.SetListener(func(r *dispatch.Request) {
//			r.Respond(map[string]string{"hello": r.SessionID()})
//		})
//		return nil
//	}))
//	if err != nil {
//		return err
//	}
//	return m.Run(ctx)
package manager
