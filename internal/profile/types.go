package profile

// Profile is the structured view of the user's dietary preferences, assembled
// from flat key-value pairs in storage.
type Profile struct {
	Diet        DietProfile
	Household   HouseholdProfile
	Cuisine     CuisineProfile
	Budget      BudgetProfile
	Preferences []string // free-form statements, e.g. "no fried food on weekdays"
}

// DietProfile captures the dietary regime and hard exclusions.
type DietProfile struct {
	Type      string   // e.g. "vegetarian", "kosher", "keto"
	Allergies []string // hard exclusions, never substituted around
	Avoid     []string // soft dislikes
}

// HouseholdProfile captures who the plan is cooked for.
type HouseholdProfile struct {
	Size int // number of people, 0 = unknown
}

// CuisineProfile captures cuisine affinities.
type CuisineProfile struct {
	Likes []string
}

// BudgetProfile captures spending constraints as free text (currency included).
type BudgetProfile struct {
	Weekly string // e.g. "600 ILS"
}
