package cartfill

import (
	"fmt"
	"strings"

	"github.com/kalambet/mealcart/internal/jobs"
)

// setupTask resolves store-specific interstitials a fresh session may land
// on; the agent is told to do nothing if none appear.
func setupTask() string {
	return "If the page shows a dialog asking for a delivery address, pickup branch, " +
		"or delivery time slot, resolve it by accepting the default or first available " +
		"option, then close any remaining popups or banners. " +
		"If no such dialog is shown, do nothing and finish."
}

// productTask instructs the agent to search for one product and add it to
// the cart, trying the ranked search terms in order and substituting a
// similar product when the exact one cannot be found.
func productTask(p jobs.Product, terms []string) string {
	ordered := make([]string, 0, len(terms)+1)
	seen := make(map[string]bool, len(terms)+1)
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		ordered = append(ordered, fmt.Sprintf("%q", t))
	}
	if !seen[p.Name] {
		ordered = append(ordered, fmt.Sprintf("%q", p.Name))
	}

	return fmt.Sprintf(
		"Use the store's search box to find the product %q. "+
			"Try these search terms in order until results appear: %s. "+
			"Add at least %s of it to the shopping cart. "+
			"If the exact product is unavailable, pick the closest similar product "+
			"and add that instead. Finish once the product is in the cart.",
		p.Name, strings.Join(ordered, ", "), p.Quantity,
	)
}

// navigateTask sends the agent to the cart page so its final location can be
// captured as the cart URL.
func navigateTask() string {
	return "Navigate to the shopping cart page of this store and stay on it."
}
