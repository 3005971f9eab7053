package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/reelsync/internal/shared"
)

// Selectors on the current title page. Selectors starting with "/" are XPath.
const (
	standardWatchlistButton = `button[data-testid="tm-box-wl-button"]`
	standardRateButton      = `[data-testid="hero-rating-bar__user-rating"] button.ipc-btn`
	standardUserScore       = `[data-testid="hero-rating-bar__user-rating__score"] span`
	standardRateSubmit      = `button.ipc-rating-prompt__rate-button`
	standardAddToList       = `button[data-testid="tm-box-addtolist-button"]`
	standardCheckins        = `//div[contains(text(), 'Your check-ins')]`
	standardCheckinsDone    = `//div[contains(@class, 'ipc-promptable-base__content')]//div[@data-titleinlist='true']`
)

// Selectors on the older "/reference" title page.
const (
	referenceWatchlistRibbon = `.titlereference-watch-ribbon > .wl-ribbon`
	referenceStarContainer   = `.ipl-rating-interactive__star-container`
)

// checkinAttempts bounds clicks on the check-ins entry before giving up.
const checkinAttempts = 3

// PageLayout performs title-page mutations for one variant of the page markup.
//
// Methods return an error wrapping [shared.ErrAlreadyPresent] when the page
// already shows the requested state, and [shared.ErrUnsupportedLayout] when
// the layout has no control for the action.
type PageLayout interface {
	Name() string
	Rate(ctx context.Context, agent BrowserAgent, rating int) error
	AddToWatchlist(ctx context.Context, agent BrowserAgent) error
	RemoveFromWatchlist(ctx context.Context, agent BrowserAgent) error
	AddToHistory(ctx context.Context, agent BrowserAgent) error
}

// LayoutFor picks the layout matching the URL a title page ended up on.
func LayoutFor(pageURL string) PageLayout {
	if strings.Contains(pageURL, "/reference") {
		return ReferenceLayout{}
	}
	return StandardLayout{}
}

// StandardLayout drives the current title page.
type StandardLayout struct{}

func (StandardLayout) Name() string { return "standard" }

func (StandardLayout) inWatchlist(ctx context.Context, agent BrowserAgent) (bool, error) {
	html, err := agent.ReadAttribute(ctx, standardWatchlistButton, "innerHTML")
	if err != nil {
		return false, err
	}
	return !strings.Contains(html, "ipc-icon--add"), nil
}

func (l StandardLayout) AddToWatchlist(ctx context.Context, agent BrowserAgent) error {
	in, err := l.inWatchlist(ctx, agent)
	if err != nil {
		return err
	}
	if in {
		return fmt.Errorf("%w: already in watchlist", shared.ErrAlreadyPresent)
	}
	return agent.FindAndClick(ctx, standardWatchlistButton)
}

func (l StandardLayout) RemoveFromWatchlist(ctx context.Context, agent BrowserAgent) error {
	in, err := l.inWatchlist(ctx, agent)
	if err != nil {
		return err
	}
	if !in {
		return fmt.Errorf("%w: not in watchlist", shared.ErrAlreadyPresent)
	}
	return agent.FindAndClick(ctx, standardWatchlistButton)
}

// Rate skips titles whose displayed user score already equals rating.
func (StandardLayout) Rate(ctx context.Context, agent BrowserAgent, rating int) error {
	if current, err := agent.ReadField(ctx, standardUserScore); err == nil && strings.TrimSpace(current) == strconv.Itoa(rating) {
		return fmt.Errorf("%w: already rated %d", shared.ErrAlreadyPresent, rating)
	}

	for _, selector := range []string{
		standardRateButton,
		fmt.Sprintf(`button[aria-label="Rate %d"]`, rating),
		standardRateSubmit,
	} {
		if err := agent.FindAndClick(ctx, selector); err != nil {
			return err
		}
	}
	return nil
}

// AddToHistory checks the title in through the "add to list" prompt and
// confirms the check-ins entry is marked before returning.
func (StandardLayout) AddToHistory(ctx context.Context, agent BrowserAgent) error {
	if err := agent.FindAndClick(ctx, standardAddToList); err != nil {
		return err
	}

	inList, err := agent.ReadAttribute(ctx, standardCheckins, "data-titleinlist")
	if err != nil {
		return err
	}
	if strings.Contains(inList, "true") {
		return fmt.Errorf("%w: already checked in", shared.ErrAlreadyPresent)
	}

	for range checkinAttempts {
		if err := agent.FindAndClick(ctx, standardCheckins); err != nil {
			return err
		}
		if v, err := agent.ReadAttribute(ctx, standardCheckinsDone, "data-titleinlist"); err == nil && v == "true" {
			return nil
		}
	}
	return fmt.Errorf("%w: check-in not confirmed after %d attempts", shared.ErrElementNotFound, checkinAttempts)
}

// ReferenceLayout drives the older "/reference" title page.
type ReferenceLayout struct{}

func (ReferenceLayout) Name() string { return "reference" }

func (ReferenceLayout) inWatchlist(ctx context.Context, agent BrowserAgent) (bool, error) {
	class, err := agent.ReadAttribute(ctx, referenceWatchlistRibbon, "class")
	if err != nil {
		return false, err
	}
	return !strings.Contains(class, "not-inWL"), nil
}

func (l ReferenceLayout) AddToWatchlist(ctx context.Context, agent BrowserAgent) error {
	in, err := l.inWatchlist(ctx, agent)
	if err != nil {
		return err
	}
	if in {
		return fmt.Errorf("%w: already in watchlist", shared.ErrAlreadyPresent)
	}
	return agent.FindAndClick(ctx, referenceWatchlistRibbon)
}

func (l ReferenceLayout) RemoveFromWatchlist(ctx context.Context, agent BrowserAgent) error {
	in, err := l.inWatchlist(ctx, agent)
	if err != nil {
		return err
	}
	if !in {
		return fmt.Errorf("%w: not in watchlist", shared.ErrAlreadyPresent)
	}
	return agent.FindAndClick(ctx, referenceWatchlistRibbon)
}

func (ReferenceLayout) Rate(ctx context.Context, agent BrowserAgent, rating int) error {
	if err := agent.FindAndClick(ctx, referenceStarContainer); err != nil {
		return err
	}
	return agent.FindAndClick(ctx, fmt.Sprintf(`.ipl-rating-selector__star-link[data-value="%d"]`, rating))
}

func (ReferenceLayout) AddToHistory(ctx context.Context, agent BrowserAgent) error {
	return fmt.Errorf("%w: reference pages have no check-ins list", shared.ErrUnsupportedLayout)
}
