package metadata

import (
	"reflect"
	"testing"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

func listAll(t *testing.T, c *Catalog, in ListObjectsInput) ([]string, []string, int) {
	t.Helper()
	var keys, prefixes []string
	pages := 0
	for {
		res, err := c.ListObjects(in)
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		pages++
		for _, o := range res.Objects {
			keys = append(keys, o.Key)
		}
		prefixes = append(prefixes, res.CommonPrefixes...)
		if !res.IsTruncated {
			return keys, prefixes, pages
		}
		if res.NextContinuationToken == "" {
			t.Fatal("truncated page without continuation token")
		}
		in.ContinuationToken = res.NextContinuationToken
		if pages > 100 {
			t.Fatal("pagination did not terminate")
		}
	}
}

func TestListing_PaginationStable(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	want := []string{"a", "b/1", "b/2", "c", "d.txt", "e", "f"}
	// Insert out of order; listing order must be lexicographic.
	for _, k := range []string{"f", "c", "a", "e", "b/2", "d.txt", "b/1"} {
		putTestObject(t, c, "b", k, "h-"+k)
	}

	full, _, _ := listAll(t, c, ListObjectsInput{Bucket: "b"})
	if !reflect.DeepEqual(full, want) {
		t.Fatalf("unpaginated listing = %v, want %v", full, want)
	}

	paged, _, pages := listAll(t, c, ListObjectsInput{Bucket: "b", MaxKeys: 2})
	if !reflect.DeepEqual(paged, want) {
		t.Errorf("paginated listing = %v, want %v", paged, want)
	}
	if pages != 4 {
		t.Errorf("expected 4 pages, got %d", pages)
	}
}

func TestListing_Delimiter(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	for _, k := range []string{"photos/2023/a.jpg", "photos/2024/b.jpg", "photos/readme", "videos/x.mp4", "top.txt"} {
		putTestObject(t, c, "b", k, "h")
	}

	keys, prefixes, _ := listAll(t, c, ListObjectsInput{Bucket: "b", Delimiter: "/"})
	if !reflect.DeepEqual(keys, []string{"top.txt"}) {
		t.Errorf("keys = %v", keys)
	}
	if !reflect.DeepEqual(prefixes, []string{"photos/", "videos/"}) {
		t.Errorf("prefixes = %v", prefixes)
	}

	keys, prefixes, _ = listAll(t, c, ListObjectsInput{Bucket: "b", Prefix: "photos/", Delimiter: "/", MaxKeys: 1})
	if !reflect.DeepEqual(keys, []string{"photos/readme"}) {
		t.Errorf("keys = %v", keys)
	}
	if !reflect.DeepEqual(prefixes, []string{"photos/2023/", "photos/2024/"}) {
		t.Errorf("prefixes = %v", prefixes)
	}
}

func TestListing_SkipsDeleteMarkers(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	c.SetBucketVersioning("b", VersioningEnabled)
	putTestObject(t, c, "b", "gone", "h")
	putTestObject(t, c, "b", "kept", "h")
	putTestObject(t, c, "b", "dir/gone", "h")
	c.DeleteObject("b", "gone")
	c.DeleteObject("b", "dir/gone")

	keys, prefixes, _ := listAll(t, c, ListObjectsInput{Bucket: "b", Delimiter: "/"})
	if !reflect.DeepEqual(keys, []string{"kept"}) || len(prefixes) != 0 {
		t.Errorf("keys = %v prefixes = %v", keys, prefixes)
	}
}

func TestListing_StartAfterAndPrefix(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		putTestObject(t, c, "b", k, "h")
	}
	keys, _, _ := listAll(t, c, ListObjectsInput{Bucket: "b", Prefix: "a", StartAfter: "a1"})
	if !reflect.DeepEqual(keys, []string{"a2", "a3"}) {
		t.Errorf("keys = %v", keys)
	}
}

func TestListing_MalformedToken(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	_, err := c.ListObjects(ListObjectsInput{Bucket: "b", ContinuationToken: "!!not-a-token"})
	if !apierr.IsReason(err, apierr.ReasonInvalidToken) {
		t.Errorf("expected InvalidToken, got %v", err)
	}
}

func TestListing_ObjectVersionsPaginated(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.CreateBucket("b")
	c.SetBucketVersioning("b", VersioningEnabled)
	for i := 0; i < 3; i++ {
		putTestObject(t, c, "b", "a", "h")
	}
	putTestObject(t, c, "b", "b", "h")
	c.DeleteObject("b", "b")

	var all []ObjectVersion
	in := ListVersionsInput{Bucket: "b", MaxKeys: 2}
	for {
		res, err := c.ListObjectVersions(in)
		if err != nil {
			t.Fatalf("ListObjectVersions: %v", err)
		}
		all = append(all, res.Versions...)
		if !res.IsTruncated {
			break
		}
		in.Token = res.NextToken
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 versions, got %d", len(all))
	}
	seen := map[string]bool{}
	for i, v := range all {
		id := v.Key + "@" + v.VersionID
		if seen[id] {
			t.Errorf("duplicate version %s", id)
		}
		seen[id] = true
		if i > 0 && all[i-1].Key == v.Key && all[i-1].Seq < v.Seq {
			t.Errorf("versions of %s not newest first", v.Key)
		}
	}
	if !all[0].IsLatest || all[1].IsLatest {
		t.Errorf("only the newest version of a should be latest")
	}
	if !all[3].DeleteMarker || !all[3].IsLatest {
		t.Errorf("expected delete marker latest for b, got %+v", all[3])
	}
}
