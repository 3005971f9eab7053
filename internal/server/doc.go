// Package server runs the short-lived HTTP listener used by the Trakt
// authorization-code flow.
//
// # OAuth Callback
//
// [OAuthHandler] validates the state parameter (CSRF protection), exchanges
// the authorization code through an [Exchanger] and sends the result through a
// channel. It processes a single callback.
//
// [CallbackServer] binds the redirect address (127.0.0.1:3000 by default),
// serves the handler behind a [BasicRouter] with request [Logging], and shuts
// down once the token arrives, the context ends or the timeout passes.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [Middleware] is applied so that the first one added runs first.
// Custom handlers implement [Handler], which adds the routes they serve to [http.Handler].
package server
