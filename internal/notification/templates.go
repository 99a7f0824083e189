// internal/notification/templates.go

package notification

import (
	"context"
	"fmt"
)

// Screens the mobile app can open from a notification
const (
	ActionOpenDashboard = "open_dashboard"
	ActionOpenInsights  = "open_insights"
	ActionOpenDevice    = "open_device"
	ActionOpenMeal      = "open_meal"
)

// DefaultTemplates is the built-in catalogue. Each call returns fresh values.
func DefaultTemplates() []*NotificationTemplate {
	return []*NotificationTemplate{
		{
			Type:              TypeDailyGoalReached,
			Category:          CategoryAchievement,
			Priority:          PriorityMedium,
			TitleTemplate:     "Daily goal reached!",
			BodyTemplate:      "You logged {{bites}} bites yesterday and hit your goal of {{goal}}. Nice work!",
			ActionType:        ActionOpenDashboard,
			DefaultActionData: NotificationData{"screen": "dashboard"},
		},
		{
			Type:              TypeWeeklySummary,
			Category:          CategoryEngagement,
			Priority:          PriorityLow,
			TitleTemplate:     "Your week in bites",
			BodyTemplate:      "{{bites}} bites this week at an average pace of {{pace}} bites/min. {{trend}}",
			ActionType:        ActionOpenInsights,
			DefaultActionData: NotificationData{"screen": "insights", "range": "week"},
		},
		{
			Type:              TypeDeviceInactive,
			Category:          CategoryEngagement,
			Priority:          PriorityLow,
			TitleTemplate:     "We miss you",
			BodyTemplate:      "Your iSpoon hasn't synced in a few days. Use it at your next meal to keep tracking.",
			ActionType:        ActionOpenDevice,
			DefaultActionData: NotificationData{"screen": "device"},
		},
		{
			Type:              TypeFastEatingAlert,
			Category:          CategoryHealth,
			Priority:          PriorityHigh,
			TitleTemplate:     "Slow down a little",
			BodyTemplate:      "You averaged {{pace}} bites/min at your last meal. Try putting the spoon down between bites.",
			ActionType:        ActionOpenMeal,
			DefaultActionData: NotificationData{"screen": "meal"},
		},
		{
			Type:              TypeSystemAlert,
			Category:          CategorySystem,
			Priority:          PriorityHigh,
			TitleTemplate:     "{{title}}",
			BodyTemplate:      "{{body}}",
			DefaultActionData: NotificationData{},
		},
		{
			Type:              TypeLowBattery,
			Category:          CategorySystem,
			Priority:          PriorityMedium,
			TitleTemplate:     "iSpoon battery low",
			BodyTemplate:      "Battery is at {{level}}%. Charge your iSpoon before your next meal.",
			ActionType:        ActionOpenDevice,
			DefaultActionData: NotificationData{"screen": "device"},
		},
		{
			Type:              TypeTemperatureAlert,
			Category:          CategoryHealth,
			Priority:          PriorityCritical,
			TitleTemplate:     "Food temperature warning",
			BodyTemplate:      "Your food is {{temperature}}°C. Let it cool before the next bite.",
			ActionType:        ActionOpenDevice,
			DefaultActionData: NotificationData{"screen": "device"},
		},
	}
}

// SeedDefaultTemplates inserts any built-in template whose type is not in
// the store yet and returns how many were created
func SeedDefaultTemplates(ctx context.Context, store TemplateStore) (int, error) {
	created := 0
	for _, tmpl := range DefaultTemplates() {
		tmpl.IsActive = true
		ok, err := store.CreateTemplate(ctx, tmpl)
		if err != nil {
			return created, fmt.Errorf("failed to seed template %s: %w", tmpl.Type, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}
