package catalog

// DefaultTiers is the production membership tier book. Individual
// memberships run a 7-day trial, church partnerships a 30-day trial.
// Prices are USD per month / per year.
func DefaultTiers() []MembershipTier {
	return []MembershipTier{
		{
			Key:          "ibam_member",
			Name:         "IBAM Impact Members",
			TagName:      "IBAM Impact Members",
			MonthlyPrice: 10,
			AnnualPrice:  100,
			TrialDays:    7,
			Features: map[string]any{
				"course":    true,
				"planner":   false,
				"export":    false,
				"analytics": false,
			},
			Description: "Access to course content",
		},
		{
			Key:          "entrepreneur",
			Name:         "Entrepreneur Member",
			TagName:      "Entrepreneur Member",
			MonthlyPrice: 20,
			AnnualPrice:  200,
			TrialDays:    7,
			Features: map[string]any{
				"course":    true,
				"planner":   true,
				"export":    true,
				"analytics": true,
			},
			Description: "Full access to course and business planner",
		},
		{
			Key:          "business",
			Name:         "Business Member",
			TagName:      "Business Member",
			MonthlyPrice: 59,
			AnnualPrice:  590,
			TrialDays:    7,
			Features: map[string]any{
				"course":            true,
				"planner":           true,
				"export":            true,
				"analytics":         true,
				"advanced_features": true,
				"team_access":       true,
			},
			Description: "Premium features for business owners",
		},
		{
			Key:          "church_small",
			Name:         "Small Church Partner",
			TagName:      "Church Partner Small",
			MonthlyPrice: 49,
			AnnualPrice:  490,
			TrialDays:    30,
			Features: map[string]any{
				"course":            true,
				"planner":           true,
				"export":            true,
				"analytics":         true,
				"admin_portal":      true,
				"max_students":      250,
				"ambassador_access": true,
			},
			Description: "For churches up to 250 members",
		},
		{
			Key:          "church_large",
			Name:         "Large Church Partner",
			TagName:      "Church Partner Large",
			MonthlyPrice: 150,
			AnnualPrice:  1500,
			TrialDays:    30,
			Features: map[string]any{
				"course":            true,
				"planner":           true,
				"export":            true,
				"analytics":         true,
				"admin_portal":      true,
				"max_students":      1000,
				"ambassador_access": true,
				"priority_support":  true,
			},
			Description: "For churches up to 1000 members",
		},
		{
			Key:          "church_mega",
			Name:         "Mega Church Partner",
			TagName:      "Church Partner Mega",
			MonthlyPrice: 500,
			AnnualPrice:  5000,
			TrialDays:    30,
			Features: map[string]any{
				"course":            true,
				"planner":           true,
				"export":            true,
				"analytics":         true,
				"admin_portal":      true,
				"max_students":      nil, // unlimited
				"ambassador_access": true,
				"priority_support":  true,
				"custom_branding":   true,
			},
			Description: "For churches over 1000 members",
		},
		{
			Key:          TrialKey,
			Name:         "Trial Member",
			TagName:      "Trial Member",
			MonthlyPrice: 0,
			AnnualPrice:  0,
			TrialDays:    7,
			Features: map[string]any{
				"course":    true,
				"planner":   "preview", // can view but not save
				"export":    false,
				"analytics": false,
			},
			Description: "Limited time trial access",
		},
	}
}

// DefaultCourses is the legacy course table, kept as a fallback for tags
// that predate the membership tiers.
func DefaultCourses() []CourseDefinition {
	return []CourseDefinition{
		{
			CourseID:   "business-foundations",
			CourseName: "IBAM Course Access",
			ModuleKeys: []string{"module1", "module2", "module3", "module4", "module5"},
		},
		{
			CourseID:    "webhook-smoke-test",
			CourseName:  "Staging Test Course",
			ModuleKeys:  []string{"module1"},
			StagingOnly: true,
		},
	}
}
