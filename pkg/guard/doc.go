// Package guard decides navigation outcomes from auth session state.
//
// The guard runs before every route transition, on both the server render
// path (as HTTP middleware) and the live client path (per navigation
// message). It never errors — every evaluation ends in exactly one of:
// allow, redirect to login (preserving the intended destination), redirect
// to the dashboard, or redirect to onboarding.
//
//	g := guard.New(guard.DefaultRoutes())
//	d := g.Evaluate(m.Store(), "/dashboard")
//	if !d.Allow {
//	    // 302 to d.RedirectTo
//	}
//
// Onboarding is a funnel: an authenticated user who has not completed it is
// redirected there from everywhere else, and one who has is redirected away
// from it.
package guard
