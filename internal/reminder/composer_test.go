package reminder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lalithlochan/verdant/internal/db"
)

func groupWith(names ...string) *DueGroup {
	g := &DueGroup{User: &db.User{ID: "u1"}}
	for i, name := range names {
		g.Plants = append(g.Plants, &db.Plant{ID: fmt.Sprintf("p%d", i+1), UserID: "u1", Name: name})
	}
	return g
}

func TestCompose_Body(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{"one plant", []string{"Fern"}, "Fern needs watering"},
		{"two plants", []string{"Fern", "Basil"}, "2 plants need watering: Fern, Basil"},
		{"three plants", []string{"Fern", "Basil", "Cactus"}, "3 plants need watering: Fern, Basil, Cactus"},
		{"four plants", []string{"Fern", "Basil", "Cactus", "Monstera"}, "4 plants need watering: Fern, Basil, Cactus and 1 more"},
		{"seven plants", []string{"A", "B", "C", "D", "E", "F", "G"}, "7 plants need watering: A, B, C and 4 more"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Compose(groupWith(tt.names...))
			assert.Equal(t, tt.want, n.Body)
			assert.Equal(t, NotificationTitle, n.Title)
		})
	}
}

func TestCompose_Data(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("Plant %d", i+1)
	}

	n := Compose(groupWith(names...))

	assert.Equal(t, NotificationKind, n.Data["type"])
	assert.Equal(t, "u1", n.Data["userId"])
	assert.Equal(t, 12, n.Data["count"])
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9", "p10"}, n.Data["plantIds"])
}

func TestCompose_IsDeterministic(t *testing.T) {
	g := groupWith("Fern", "Basil", "Cactus", "Monstera")
	assert.Equal(t, Compose(g), Compose(g))
}
