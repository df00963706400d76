// Package exchange coordinates contact-card artifact generation for cohorts
// that have reached capacity.
package exchange

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
	"clustercard.org/internal/ids"
	"clustercard.org/internal/obs"
	"clustercard.org/internal/profile"
	"clustercard.org/internal/vcard"
)

const vcfContentType = "text/vcard; charset=utf-8"

// Coordinator builds, stores and registers exchange artifacts. Generation is
// idempotent per cohort: the registry's conditional transition decides the
// single winner, and a loser removes its own upload.
type Coordinator struct {
	registry cohort.Registry
	profiles profile.Store
	blobs    blob.Store
	log      *zap.Logger
}

func NewCoordinator(registry cohort.Registry, profiles profile.Store, blobs blob.Store, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{registry: registry, profiles: profiles, blobs: blobs, log: log}
}

// EnsureArtifact generates and stores the cohort's artifact when the cluster
// is full but not yet exchange-ready. It is safe to call from any request
// observing that state, including retries after a failed generation; member
// counts are never re-evaluated here.
func (c *Coordinator) EnsureArtifact(ctx context.Context, clusterID, userID string) (cohort.Status, error) {
	st, err := c.registry.Status(ctx, clusterID, userID)
	if err != nil {
		return cohort.Status{}, err
	}
	if st.State != cohort.StateFullPending {
		return st, nil
	}

	members, err := c.MemberProfiles(ctx, clusterID, st.CohortID)
	if err != nil {
		return st, fmt.Errorf("load cohort members: %w", err)
	}

	cards := make([]vcard.Card, 0, len(members))
	for _, m := range members {
		cards = append(cards, vcard.Card{
			Nickname:          m.Nickname,
			Profession:        m.Profession,
			DisplayProfession: m.DisplayProfession,
			Phone:             m.Phone,
		})
	}
	doc := vcard.Build(cards)
	fileName := vcard.FileName(clusterID, ids.Short())

	if err := c.blobs.Put(ctx, fileName, []byte(doc), vcfContentType); err != nil {
		return st, fmt.Errorf("store artifact: %w", err)
	}

	won, err := c.registry.MarkExchangeReady(ctx, clusterID, st.CohortID, fileName)
	if err != nil {
		// The upload is orphaned; reset cleanup sweeps it later.
		return st, fmt.Errorf("mark exchange ready: %w", err)
	}
	if !won {
		// Another request already registered its artifact.
		if err := c.blobs.Delete(ctx, fileName); err != nil && err != blob.ErrNotFound {
			c.log.Warn("delete redundant artifact", zap.String("file", fileName), zap.Error(err))
		}
		return c.registry.Status(ctx, clusterID, userID)
	}

	obs.ArtifactsGenerated.Inc()
	c.log.Info("exchange artifact generated",
		zap.String("cluster_id", clusterID),
		zap.String("cohort_id", st.CohortID),
		zap.String("file", fileName),
		zap.Int("members", len(members)),
	)
	return c.registry.Status(ctx, clusterID, userID)
}

// MemberProfiles performs the explicit two-step fetch (membership rows, then
// profiles by id) and merges them in join order. Members without a profile
// row are kept with their user id as a last-resort nickname.
func (c *Coordinator) MemberProfiles(ctx context.Context, clusterID, cohortID string) ([]cohort.MemberProfile, error) {
	members, err := c.registry.Members(ctx, clusterID, cohortID)
	if err != nil {
		return nil, err
	}
	idList := make([]string, 0, len(members))
	for _, m := range members {
		idList = append(idList, m.UserID)
	}
	byID, err := c.profiles.ByIDs(ctx, idList)
	if err != nil {
		return nil, err
	}

	out := make([]cohort.MemberProfile, 0, len(members))
	for _, m := range members {
		mp := cohort.MemberProfile{
			UserID:            m.UserID,
			Nickname:          m.UserID,
			DisplayProfession: m.DisplayProfession,
		}
		if p, ok := byID[m.UserID]; ok {
			mp.Nickname = p.Nickname
			mp.Phone = p.WhatsApp
			mp.Age = p.Age
			mp.Country = p.Country
			mp.Gender = p.Gender
			mp.Profession = p.Profession
			mp.LookingFor = p.LookingFor
			mp.AvailableFor = p.AvailableFor
		}
		out = append(out, mp)
	}
	return out, nil
}
