package records_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"foodlink/internal/records"
	"foodlink/pkg/platform/sentinel"
)

// ContractSuite exercises the records.Store contract. Adapter suites embed it
// and set NewStore.
type ContractSuite struct {
	suite.Suite
	NewStore func() records.Store
	store    records.Store
	owner    string
}

var schedule = func(owner string) records.Path {
	return records.Path{Collection: records.CollectionDonors, OwnerID: owner, Subcollection: "schedule"}
}

func (s *ContractSuite) SetupTest() {
	s.store = s.NewStore()
	s.owner = fmt.Sprintf("donor-%d", time.Now().UnixNano())
}

func (s *ContractSuite) TestCreateIfAbsent() {
	ctx := context.Background()
	key := schedule(s.owner).Doc("d1")

	doc, err := s.store.Create(ctx, key, records.Fields{"foodName": "Rice", "note": ""})
	s.Require().NoError(err)
	s.Equal(int64(1), doc.Version)
	s.Equal("Rice", doc.Fields["foodName"])
	s.NotContains(doc.Fields, "note")

	_, err = s.store.Create(ctx, key, records.Fields{"foodName": "Bread"})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	got, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal("Rice", got.Fields["foodName"], "existing document must not be touched")
	s.Equal(int64(1), got.Version)
}

func (s *ContractSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), schedule(s.owner).Doc("nope"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ContractSuite) TestMergeUpsertsAndRemovesEmptyFields() {
	ctx := context.Background()
	key := records.Path{Collection: records.CollectionDonors, OwnerID: s.owner, Subcollection: "notifications"}.Doc("d1")

	doc, err := s.store.Merge(ctx, key, records.Fields{"recipientName": "Ravi", "fulfillmentMode": "VolunteerAssisted"})
	s.Require().NoError(err)
	s.Equal(int64(1), doc.Version)

	doc, err = s.store.Merge(ctx, key, records.Fields{"volunteerName": "Vik", "fulfillmentMode": ""})
	s.Require().NoError(err)
	s.Equal(int64(2), doc.Version)
	s.Equal("Ravi", doc.Fields["recipientName"])
	s.Equal("Vik", doc.Fields["volunteerName"])
	s.NotContains(doc.Fields, "fulfillmentMode")
}

func (s *ContractSuite) TestSetReplacesBody() {
	ctx := context.Background()
	key := schedule(s.owner).Doc("d1")

	_, err := s.store.Set(ctx, key, records.Fields{"a": "1", "b": "2"})
	s.Require().NoError(err)
	doc, err := s.store.Set(ctx, key, records.Fields{"c": "3"})
	s.Require().NoError(err)

	s.Equal(records.Fields{"c": "3"}, doc.Fields)
	s.Equal(int64(2), doc.Version)
}

func (s *ContractSuite) TestUpdatePreconditions() {
	ctx := context.Background()
	key := schedule(s.owner).Doc("d1")

	_, err := s.store.Update(ctx, key, records.Fields{"x": "1"}, records.AnyVersion)
	s.ErrorIs(err, sentinel.ErrNotFound)

	doc, err := s.store.Create(ctx, key, records.Fields{"status": "Pending"})
	s.Require().NoError(err)

	_, err = s.store.Update(ctx, key, records.Fields{"status": "Delivered"}, doc.Version+1)
	s.ErrorIs(err, sentinel.ErrConflict)

	updated, err := s.store.Update(ctx, key, records.Fields{"status": "Delivered"}, doc.Version)
	s.Require().NoError(err)
	s.Equal("Delivered", updated.Fields["status"])
	s.Equal(doc.Version+1, updated.Version)

	updated, err = s.store.Update(ctx, key, records.Fields{"status": "Pending"}, records.AnyVersion)
	s.Require().NoError(err)
	s.Equal(doc.Version+2, updated.Version)
}

func (s *ContractSuite) TestConcurrentCompareAndSetHasOneWinner() {
	ctx := context.Background()
	key := records.Path{Collection: records.CollectionRecipients, OwnerID: s.owner, Subcollection: "availableFood"}.Doc("d1")
	doc, err := s.store.Create(ctx, key, records.Fields{"fulfillmentMode": "VolunteerAssisted"})
	s.Require().NoError(err)

	const contenders = 20
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(ctx, key, records.Fields{"claimedBy": fmt.Sprintf("v%d", i)}, doc.Version)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(contenders-1), conflicts.Load())
}

func (s *ContractSuite) TestDelete() {
	ctx := context.Background()
	key := schedule(s.owner).Doc("d1")

	s.ErrorIs(s.store.Delete(ctx, key, records.AnyVersion), sentinel.ErrNotFound)

	doc, err := s.store.Create(ctx, key, records.Fields{"a": "1"})
	s.Require().NoError(err)
	s.ErrorIs(s.store.Delete(ctx, key, doc.Version+5), sentinel.ErrConflict)
	s.Require().NoError(s.store.Delete(ctx, key, doc.Version))

	_, err = s.store.Get(ctx, key)
	s.ErrorIs(err, sentinel.ErrNotFound)
	docs, err := s.store.List(ctx, key.Path)
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *ContractSuite) TestListIsScopedAndOrdered() {
	ctx := context.Background()
	path := schedule(s.owner)
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.store.Create(ctx, path.Doc(id), records.Fields{"id": id})
		s.Require().NoError(err)
	}
	_, err := s.store.Create(ctx, schedule(s.owner+"-other").Doc("z"), records.Fields{"id": "z"})
	s.Require().NoError(err)

	docs, err := s.store.List(ctx, path)
	s.Require().NoError(err)
	s.Require().Len(docs, 3)
	s.Equal([]string{"a", "b", "c"}, []string{docs[0].Key.ID, docs[1].Key.ID, docs[2].Key.ID})
}

func (s *ContractSuite) TestQueryGroupSpansOwners() {
	ctx := context.Background()
	donation := "don-" + s.owner
	for _, owner := range []string{s.owner + "-1", s.owner + "-2"} {
		path := records.Path{Collection: records.CollectionDonors, OwnerID: owner, Subcollection: "notifications"}
		_, err := s.store.Create(ctx, path.Doc(donation), records.Fields{"donationId": donation})
		s.Require().NoError(err)
	}
	other := records.Path{Collection: records.CollectionDonors, OwnerID: s.owner + "-3", Subcollection: "notifications"}
	_, err := s.store.Create(ctx, other.Doc("x"), records.Fields{"donationId": "unrelated"})
	s.Require().NoError(err)

	docs, err := s.store.QueryGroup(ctx, "notifications", "donationId", donation)
	s.Require().NoError(err)
	s.Len(docs, 2)
	for _, d := range docs {
		s.Equal("notifications", d.Key.Subcollection)
		s.Equal(donation, d.Key.ID)
	}

	unclaimed, err := s.store.QueryGroup(ctx, "notifications", "claimedBy-"+s.owner, "")
	s.Require().NoError(err)
	s.GreaterOrEqual(len(unclaimed), 3, "an absent field matches the empty value")
}

func (s *ContractSuite) TestWatchDeliversChanges() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := schedule(s.owner)

	ch, err := s.store.Watch(ctx, path)
	s.Require().NoError(err)

	_, err = s.store.Create(ctx, path.Doc("d1"), records.Fields{"status": "Pending"})
	s.Require().NoError(err)
	_, err = s.store.Update(ctx, path.Doc("d1"), records.Fields{"status": "Delivered"}, records.AnyVersion)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(ctx, path.Doc("d1"), records.AnyVersion))

	want := []records.ChangeType{records.ChangeAdded, records.ChangeModified, records.ChangeRemoved}
	for _, typ := range want {
		select {
		case c := <-ch:
			s.Equal(typ, c.Type)
			s.Equal("d1", c.Key.ID)
			if typ != records.ChangeRemoved && c.Doc != nil {
				s.Equal("d1", c.Doc.Key.ID)
			}
		case <-time.After(5 * time.Second):
			s.FailNow("timed out waiting for change", "want %s", typ)
		}
	}
}

func (s *ContractSuite) TestRejectsMalformedKeys() {
	_, err := s.store.Create(context.Background(), records.Path{Collection: "donors", OwnerID: "a/b", Subcollection: "schedule"}.Doc("x"), nil)
	s.ErrorIs(err, records.ErrInvalidKey)
	_, err = s.store.Get(context.Background(), schedule(s.owner).Doc(""))
	s.ErrorIs(err, records.ErrInvalidKey)
}
