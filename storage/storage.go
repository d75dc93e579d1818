package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"gymstream/domain"
)

// Storage reads the dashboard read model from Azure Table Storage. Visits
// are partitioned by tenant, one row per visit.
type Storage struct {
	visitsTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, visitsTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{visitsTable: svc.NewClient(visitsTable)}, nil
}

type visitEntity struct {
	aztables.Entity
	MemberID   string `json:"MemberId"`
	MemberName string `json:"MemberName"`
	GymID      string `json:"GymId"`
	CheckinAt  string `json:"CheckinAt"`
	CheckoutAt string `json:"CheckoutAt"`
}

func decodeVisitEntity(data []byte) (visitEntity, error) {
	var ent visitEntity
	err := json.Unmarshal(data, &ent)
	return ent, err
}

// FetchDashboard aggregates today's visits for the tenant into the
// snapshot served alongside the live stream.
func (s *Storage) FetchDashboard(ctx context.Context, orgID string) (domain.DashboardSnapshot, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	filter := "PartitionKey eq '" + orgID + "' and CheckinAt ge '" + dayStart.Format(time.RFC3339) + "'"
	pager := s.visitsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	snapshot := domain.DashboardSnapshot{
		OrgID: orgID,
		Date:  dayStart.Format("2006-01-02"),
	}
	members := map[string]struct{}{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.DashboardSnapshot{}, err
		}
		for _, raw := range resp.Entities {
			ent, err := decodeVisitEntity(raw)
			if err != nil {
				return domain.DashboardSnapshot{}, err
			}
			snapshot.CheckinsToday++
			if ent.CheckoutAt == "" {
				snapshot.ActiveVisits++
			}
			members[ent.MemberID] = struct{}{}
		}
	}
	snapshot.UniqueMembers = len(members)
	return snapshot, nil
}
