// Package catalog holds the membership-tier and legacy-course tables and
// resolves incoming marketing tags against them.
package catalog

import (
	"fmt"
	"sort"
	"time"
)

// TrialKey is the tier assigned when a contact is provisioned without a
// recognized membership tag (legacy course enrollments).
const TrialKey = "trial"

// MembershipTier is a paid-access level granted by a marketing tag.
// Read-only at runtime.
type MembershipTier struct {
	Key          string         `yaml:"key"`
	Name         string         `yaml:"name"`
	TagName      string         `yaml:"tag_name"`
	MonthlyPrice float64        `yaml:"monthly_price"`
	AnnualPrice  float64        `yaml:"annual_price"`
	TrialDays    int            `yaml:"trial_days"`
	Features     map[string]any `yaml:"features"`
	Description  string         `yaml:"description,omitempty"`
}

// TrialEndsAt returns the end of the tier's trial period starting at now.
func (t *MembershipTier) TrialEndsAt(now time.Time) time.Time {
	return now.AddDate(0, 0, t.TrialDays)
}

// HasFeature reports whether the tier grants a feature outright. Partial
// grants (e.g. "preview") report false.
func (t *MembershipTier) HasFeature(name string) bool {
	v, ok := t.Features[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// CourseDefinition is a legacy standalone course grant, matched when no
// membership tier claims the tag. Courses have no cancellation semantics.
type CourseDefinition struct {
	CourseID    string   `yaml:"course_id"`
	CourseName  string   `yaml:"course_name"`
	ModuleKeys  []string `yaml:"modules"`
	StagingOnly bool     `yaml:"staging_only,omitempty"`
}

// Assignment is the result of resolving a tag: at most one branch is set.
type Assignment struct {
	Tier   *MembershipTier
	Course *CourseDefinition
}

// Matched reports whether the tag resolved to anything.
func (a Assignment) Matched() bool {
	return a.Tier != nil || a.Course != nil
}

// Catalog is the static tag-resolution table, built once at startup.
type Catalog struct {
	tiers       []MembershipTier
	courses     []CourseDefinition
	tierByTag   map[string]*MembershipTier
	tierByKey   map[string]*MembershipTier
	courseByTag map[string]*CourseDefinition
}

// New builds a catalog from tier and course tables. Trigger tags must be
// unique within each table; a membership tag shadowing a course tag is
// allowed (membership wins at resolution time).
func New(tiers []MembershipTier, courses []CourseDefinition) (*Catalog, error) {
	c := &Catalog{
		tiers:       tiers,
		courses:     courses,
		tierByTag:   make(map[string]*MembershipTier, len(tiers)),
		tierByKey:   make(map[string]*MembershipTier, len(tiers)),
		courseByTag: make(map[string]*CourseDefinition, len(courses)),
	}

	for i := range c.tiers {
		t := &c.tiers[i]
		if t.Key == "" {
			return nil, fmt.Errorf("membership tier %d: key is empty", i)
		}
		if t.TagName == "" {
			return nil, fmt.Errorf("membership tier %q: tag_name is empty", t.Key)
		}
		if _, dup := c.tierByTag[t.TagName]; dup {
			return nil, fmt.Errorf("membership tier %q: duplicate tag_name %q", t.Key, t.TagName)
		}
		if _, dup := c.tierByKey[t.Key]; dup {
			return nil, fmt.Errorf("duplicate membership tier key %q", t.Key)
		}
		c.tierByTag[t.TagName] = t
		c.tierByKey[t.Key] = t
	}

	for i := range c.courses {
		cd := &c.courses[i]
		if cd.CourseID == "" {
			return nil, fmt.Errorf("course %d: course_id is empty", i)
		}
		if cd.CourseName == "" {
			return nil, fmt.Errorf("course %q: course_name is empty", cd.CourseID)
		}
		if _, dup := c.courseByTag[cd.CourseName]; dup {
			return nil, fmt.Errorf("course %q: duplicate course_name %q", cd.CourseID, cd.CourseName)
		}
		c.courseByTag[cd.CourseName] = cd
	}

	if _, ok := c.tierByKey[TrialKey]; !ok {
		return nil, fmt.Errorf("membership tier table must include the %q tier", TrialKey)
	}

	return c, nil
}

// Default returns a catalog populated with the production tier book and the
// legacy course table.
func Default() *Catalog {
	c, err := New(DefaultTiers(), DefaultCourses())
	if err != nil {
		// The compiled-in tables are validated by tests; this is unreachable.
		panic(err)
	}
	return c
}

// Resolve maps a tag to a membership tier or, failing that, a legacy course.
// Match is exact and case-sensitive on the trigger tag. Membership always
// takes precedence over a course with the same trigger.
func (c *Catalog) Resolve(tagName string) Assignment {
	if t, ok := c.tierByTag[tagName]; ok {
		return Assignment{Tier: t}
	}
	if cd, ok := c.courseByTag[tagName]; ok {
		return Assignment{Course: cd}
	}
	return Assignment{}
}

// TierByKey looks up a tier by its key.
func (c *Catalog) TierByKey(key string) (*MembershipTier, bool) {
	t, ok := c.tierByKey[key]
	return t, ok
}

// TrialTier returns the fallback trial tier.
func (c *Catalog) TrialTier() *MembershipTier {
	return c.tierByKey[TrialKey]
}

// MembershipTags returns the configured membership trigger tags, sorted.
func (c *Catalog) MembershipTags() []string {
	tags := make([]string, 0, len(c.tierByTag))
	for tag := range c.tierByTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// CourseTags returns the configured legacy course trigger tags, sorted.
func (c *Catalog) CourseTags() []string {
	tags := make([]string, 0, len(c.courseByTag))
	for tag := range c.courseByTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
