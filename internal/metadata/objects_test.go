package metadata

import (
	"testing"
	"time"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

func putTestObject(t *testing.T, c *Catalog, bucket, key, hash string) ObjectVersion {
	t.Helper()
	v, _, err := c.PutObject(ObjectVersion{Bucket: bucket, Key: key, ContentHash: hash, ETag: hash, Size: int64(len(hash))})
	if err != nil {
		t.Fatalf("PutObject %s/%s: %v", bucket, key, err)
	}
	return v
}

func TestObjects_UnversionedOverwrite(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")

	first := putTestObject(t, c, "b", "k", "h1")
	if first.VersionID != NullVersion {
		t.Errorf("expected null version, got %q", first.VersionID)
	}

	v, replaced, err := c.PutObject(ObjectVersion{Bucket: "b", Key: "k", ContentHash: "h2"})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if replaced == nil || replaced.ContentHash != "h1" {
		t.Fatalf("expected h1 replaced, got %+v", replaced)
	}
	if v.Seq <= first.Seq {
		t.Errorf("overwrite should advance the sequence")
	}

	versions, _ := c.Versions("b", "k")
	if len(versions) != 1 {
		t.Fatalf("expected exactly one version, got %d", len(versions))
	}

	res, err := c.DeleteObject("b", "k")
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if res.Marker != nil || res.Removed == nil || res.Removed.ContentHash != "h2" {
		t.Errorf("unexpected delete result %+v", res)
	}
	if _, err := c.GetObject("b", "k", ""); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	// Deleting a missing key is not an error.
	res, err = c.DeleteObject("b", "k")
	if err != nil || res.Removed != nil {
		t.Errorf("expected no-op delete, got %+v %v", res, err)
	}
}

func TestObjects_VersionedLatestInvariant(t *testing.T) {
	c, clk := newTestCatalog(t)
	c.CreateBucket("b")
	c.SetBucketVersioning("b", VersioningEnabled)

	var ids []string
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		clk.Advance(time.Second)
		ids = append(ids, putTestObject(t, c, "b", "k", h).VersionID)
	}

	assertSingleLatest := func(wantID string) {
		t.Helper()
		versions, err := c.Versions("b", "k")
		if err != nil {
			t.Fatalf("Versions: %v", err)
		}
		latest := 0
		for _, v := range versions {
			if v.IsLatest {
				latest++
				if v.VersionID != wantID {
					t.Errorf("latest is %s, want %s", v.VersionID, wantID)
				}
			}
		}
		if latest != 1 {
			t.Errorf("expected exactly one latest, got %d", latest)
		}
		if versions[0].VersionID != wantID {
			t.Errorf("newest version should come first")
		}
	}
	assertSingleLatest(ids[3])

	clk.Advance(time.Second)
	res, err := c.DeleteObject("b", "k")
	if err != nil || res.Marker == nil {
		t.Fatalf("expected delete marker, got %+v %v", res, err)
	}
	assertSingleLatest(res.Marker.VersionID)

	_, err = c.GetObject("b", "k", "")
	if !apierr.IsReason(err, apierr.ReasonDeleteMarker) {
		t.Errorf("expected delete marker NotFound, got %v", err)
	}
	if _, err := c.GetObject("b", "k", res.Marker.VersionID); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("reading a delete marker version should be NotFound, got %v", err)
	}

	// Removing the marker exposes the previous version again.
	if _, err := c.DeleteObjectVersion("b", "k", res.Marker.VersionID); err != nil {
		t.Fatalf("DeleteObjectVersion: %v", err)
	}
	assertSingleLatest(ids[3])
	got, _ := c.GetObject("b", "k", "")
	if got.ContentHash != "h4" {
		t.Errorf("expected h4 after removing marker, got %s", got.ContentHash)
	}

	// Removing a middle version leaves latest untouched.
	removed, err := c.DeleteObjectVersion("b", "k", ids[1])
	if err != nil || removed.ContentHash != "h2" {
		t.Fatalf("DeleteObjectVersion: %+v %v", removed, err)
	}
	assertSingleLatest(ids[3])

	if _, err := c.DeleteObjectVersion("b", "k", ids[1]); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound for removed version, got %v", err)
	}
}

func TestObjects_SuspendedUsesNullVersion(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	c.SetBucketVersioning("b", VersioningEnabled)
	enabled := putTestObject(t, c, "b", "k", "h1")

	c.SetBucketVersioning("b", VersioningSuspended)
	null := putTestObject(t, c, "b", "k", "h2")
	if null.VersionID != NullVersion {
		t.Fatalf("expected null version, got %s", null.VersionID)
	}
	_, replaced, _ := c.PutObject(ObjectVersion{Bucket: "b", Key: "k", ContentHash: "h3"})
	if replaced == nil || replaced.ContentHash != "h2" {
		t.Errorf("expected null version overwritten, got %+v", replaced)
	}

	res, err := c.DeleteObject("b", "k")
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if res.Marker != nil || res.Removed == nil {
		t.Errorf("suspended delete should remove the null version, got %+v", res)
	}

	// The enabled-era version becomes latest again.
	got, err := c.GetObject("b", "k", "")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if got.VersionID != enabled.VersionID {
		t.Errorf("expected %s latest, got %s", enabled.VersionID, got.VersionID)
	}
}

func TestObjects_MissingBucket(t *testing.T) {
	c, _ := newTestCatalog(t)
	_, _, err := c.PutObject(ObjectVersion{Bucket: "nope", Key: "k"})
	ae, ok := apierr.As(err)
	if !ok || ae.Kind != apierr.KindNotFound || ae.Resource.Type != apierr.ResourceBucket {
		t.Errorf("expected bucket NotFound, got %v", err)
	}
}
