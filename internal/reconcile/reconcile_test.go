package reconcile

import (
	"testing"

	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/stretchr/testify/assert"
)

func pending(id string) models.Meta {
	return models.Meta{ID: id, Origin: models.OriginLocalPending}
}

func confirmed(id string, rev int64) models.Meta {
	return models.Meta{ID: id, Revision: rev, Origin: models.OriginServerConfirmed}
}

func TestSupersedes(t *testing.T) {
	tests := []struct {
		name     string
		existing models.Meta
		incoming models.Meta
		want     bool
	}{
		{"confirmed beats pending", pending("local-1"), confirmed("srv-1", 10), true},
		{"pending never beats confirmed", confirmed("srv-1", 10), pending("local-1"), false},
		{"newer revision wins", confirmed("srv-1", 10), confirmed("srv-1", 20), true},
		{"older revision loses", confirmed("srv-1", 20), confirmed("srv-1", 10), false},
		{"tie keeps existing", confirmed("srv-1", 10), confirmed("srv-1", 10), false},
		{"pending vs pending keeps existing", pending("local-1"), pending("local-2"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Supersedes(tt.existing, tt.incoming))
		})
	}
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name     string
		existing models.Meta
		incoming models.Meta
		want     bool
	}{
		{"same id same revision", confirmed("srv-1", 10), confirmed("srv-1", 10), true},
		{"same id older revision", confirmed("srv-1", 10), confirmed("srv-1", 5), true},
		{"same id newer revision", confirmed("srv-1", 10), confirmed("srv-1", 11), false},
		{"different id", confirmed("srv-1", 10), confirmed("srv-2", 10), false},
		{"repeated local write", pending("local-1"), pending("local-1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicate(tt.existing, tt.incoming))
		})
	}
}
