package reminder

import (
	"fmt"
	"strings"
)

const (
	// NotificationTitle is shown on every watering reminder.
	NotificationTitle = "Time to water 💧"

	// NotificationKind tags the data payload so the app can route the tap.
	NotificationKind = "watering_reminder"

	maxNamedPlants   = 3
	maxPayloadPlants = 10
)

// Notification is the content sent to every destination of one user.
type Notification struct {
	Title string
	Body  string
	Data  map[string]any
}

// Compose builds the single notification for a group. The result depends only
// on the group's user and the order of its plants.
func Compose(g *DueGroup) Notification {
	n := len(g.Plants)

	var body string
	switch {
	case n == 1:
		body = fmt.Sprintf("%s needs watering", g.Plants[0].Name)
	default:
		named := min(n, maxNamedPlants)
		names := make([]string, 0, named)
		for _, p := range g.Plants[:named] {
			names = append(names, p.Name)
		}
		body = fmt.Sprintf("%d plants need watering: %s", n, strings.Join(names, ", "))
		if n > maxNamedPlants {
			body += fmt.Sprintf(" and %d more", n-maxNamedPlants)
		}
	}

	ids := make([]string, 0, min(n, maxPayloadPlants))
	for _, p := range g.Plants[:min(n, maxPayloadPlants)] {
		ids = append(ids, p.ID)
	}

	return Notification{
		Title: NotificationTitle,
		Body:  body,
		Data: map[string]any{
			"type":     NotificationKind,
			"userId":   g.User.ID,
			"count":    n,
			"plantIds": ids,
		},
	}
}
