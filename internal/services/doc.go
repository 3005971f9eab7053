// Package services defines the [Service] interface for the two sides of a sync and implements it for Trakt and IMDb.
//
// # Service Interface
//
// Both sides capture [models.Snapshot] values per category and hand back a [Mutation]
// for each (category, action) pair they support. A mutation is either a bulk
// [dispatch.Sink] or a single-item [dispatch.Apply]; the dispatcher runs either one.
//
// # Trakt Implementation
//
// [TraktService] uses OAuth2 for authentication with automatic token refresh.
// Snapshots come from the /sync and /users endpoints; history and comments are
// paginated via X-Pagination-Page-Count. Ratings, watchlist and history changes
// are posted in bulk, partitioned into movies, shows and episodes. Reviews are
// posted one at a time as comments.
//
// # IMDb Implementation
//
// [IMDbService] reads snapshots from the CSV list exports and applies changes one
// title at a time through a [BrowserAgent]. [WebDriver] is the agent used in
// production and speaks the W3C WebDriver protocol to a local driver.
//
// Title pages come in two markups. [LayoutFor] picks a [PageLayout] from the URL
// the page ended up on: [StandardLayout] for the current page, [ReferenceLayout]
// for "/reference" pages, which cannot record check-ins.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrNotAuthenticated] : Authenticate() not called
//   - [shared.ErrAPIRequest] : HTTP request failed
//   - [shared.ErrPageLoad] : title page failed to load after retries
//   - [shared.ErrElementNotFound] : the page is missing an expected control
//   - [shared.ErrAlreadyPresent] : the page already shows the requested state
//   - [shared.ErrUnsupportedLayout] : the page layout cannot perform the action
package services
