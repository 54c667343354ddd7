package services_test

import (
	"context"
	"testing"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenManager_Open(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		params  ports.OpenScreenParams
		wantErr error
	}{
		{"home", ports.OpenScreenParams{ViewerID: viewer, Kind: domain.ScreenHome, Sections: []domain.Section{domain.SectionTopPosts}}, nil},
		{"topic without topic", ports.OpenScreenParams{ViewerID: viewer, Kind: domain.ScreenTopic}, apperrors.ErrBadRequest},
		{"profile without subject", ports.OpenScreenParams{ViewerID: viewer, Kind: domain.ScreenProfile}, apperrors.ErrBadRequest},
		{"unknown kind", ports.OpenScreenParams{ViewerID: viewer, Kind: "timeline"}, apperrors.ErrBadRequest},
		{"section of another kind", ports.OpenScreenParams{ViewerID: viewer, Kind: domain.ScreenHome, Sections: []domain.Section{domain.SectionProfilePosts}}, apperrors.ErrSectionUnknown},
		{"anonymous", ports.OpenScreenParams{Kind: domain.ScreenHome}, apperrors.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			screen, err := h.manager.Open(ctx, tt.params)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, screen)
				assert.Zero(t, h.manager.Count())
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, screen.ID())
			assert.Equal(t, 1, h.manager.Count())
		})
	}
}

func TestScreenManager_EnforcesPerViewerLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.open(t, viewer)
	}

	_, err := h.manager.Open(context.Background(), ports.OpenScreenParams{ViewerID: viewer, Kind: domain.ScreenHome})
	assert.ErrorIs(t, err, apperrors.ErrTooManyScreens)

	// other viewers are unaffected
	h.open(t, "viewer-2")
	assert.Equal(t, 5, h.manager.Count())
}

func TestScreenManager_GetAndClose(t *testing.T) {
	h := newHarness(t)
	screen := h.open(t, viewer)

	got, err := h.manager.Get(viewer, screen.ID())
	require.NoError(t, err)
	assert.Equal(t, screen.ID(), got.ID())

	_, err = h.manager.Get("viewer-2", screen.ID())
	assert.ErrorIs(t, err, apperrors.ErrScreenNotFound)

	assert.ErrorIs(t, h.manager.Close("viewer-2", screen.ID()), apperrors.ErrScreenNotFound)
	require.NoError(t, h.manager.Close(viewer, screen.ID()))
	assert.ErrorIs(t, h.manager.Close(viewer, screen.ID()), apperrors.ErrScreenNotFound)

	_, err = h.manager.Get(viewer, screen.ID())
	assert.ErrorIs(t, err, apperrors.ErrScreenNotFound)
	assert.Equal(t, 1, h.bus.SubscriberCount()) // only the spy remains
}

func TestScreenManager_ListIsPerViewer(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, viewer)
	b := h.open(t, viewer)
	h.open(t, "viewer-2")

	listed := h.manager.List(viewer)
	require.Len(t, listed, 2)
	ids := []string{listed[0].ID(), listed[1].ID()}
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, ids)
	assert.Less(t, ids[0], ids[1])

	assert.Empty(t, h.manager.List("viewer-3"))
}

func TestDefaultSections(t *testing.T) {
	home, err := services.DefaultSections(domain.ScreenHome, 5)
	require.NoError(t, err)
	assert.Len(t, home, 6)
	for _, spec := range home {
		assert.Equal(t, 5, spec.Limit)
	}

	profile, err := services.DefaultSections(domain.ScreenProfile, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.SectionProfileHeader, profile[0].Section)
	assert.Equal(t, 1, profile[0].Limit)
}
