package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemirror/notemirror/internal/schema"
)

var modified = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func sampleNodes() []*schema.Node {
	return []*schema.Node{
		{ID: "nb", Kind: schema.KindNotebook, Title: "Work", NavigationURL: "onenote:nb", LastModified: modified,
			Subtitle: "OneNote Notebook", SearchString: "Work"},
		{ID: "sg", Kind: schema.KindSectionGroup, ParentID: "nb", Title: "Projects", NavigationURL: "onenote:p1",
			LastModified: modified, Subtitle: "Work", SearchString: "Work > Projects"},
		{ID: "s1", Kind: schema.KindSection, ParentID: "sg", Title: "Alpha", LastModified: modified,
			Subtitle: "Work > Projects", SearchString: "Work > Projects > Alpha"},
		{ID: "p1", Kind: schema.KindPage, ParentID: "s1", Title: "Kickoff & Plan", NavigationURL: "onenote:p1?a=1&b=2",
			LastModified: modified, Subtitle: "Work > Projects > Alpha", SearchString: "Work > Projects > Alpha > Kickoff & Plan"},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("alfred")
	require.NoError(t, err)
	assert.Equal(t, FormatAlfred, f)

	f, err = ParseFormat("legacy")
	require.NoError(t, err)
	assert.Equal(t, FormatLegacy, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}

func TestIconPath(t *testing.T) {
	tests := []struct {
		dir  string
		kind schema.Kind
		want string
	}{
		{"icons", schema.KindNotebook, "icons/notebook.png"},
		{"icons", schema.KindSectionGroup, "icons/section-group.png"},
		{"icons", schema.KindSection, "icons/section.png"},
		{"icons", schema.KindPage, "icons/page.png"},
		{"", schema.KindSection, "section.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IconPath(tt.dir, tt.kind))
	}
}

func TestAlfred(t *testing.T) {
	doc := Alfred(sampleNodes(), "icons")
	require.Len(t, doc.Items, 4)

	page := doc.Items[3]
	assert.Equal(t, "p1", page.UID)
	assert.Equal(t, "Kickoff & Plan", page.Autocomplete)
	assert.Equal(t, "Work > Projects > Alpha", page.Subtitle)
	assert.Equal(t, "onenote:p1?a=1&b=2", page.Arg)
	assert.Equal(t, "Work > Projects > Alpha > Kickoff & Plan", page.Match)
	assert.True(t, page.Valid)
	assert.Equal(t, "icons/page.png", page.Icon.Path)

	assert.False(t, doc.Items[2].Valid, "section without a URL is not actionable")
}

func TestWrite_Alfred(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleNodes(), DefaultOptions()))

	// HTML characters stay readable.
	assert.Contains(t, buf.String(), `"onenote:p1?a=1&b=2"`)

	var doc ScriptFilter
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Items, 4)
}

func TestWrite_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, DefaultOptions()))
	assert.JSONEq(t, `{"items":[]}`, buf.String())
}

func TestWrite_LegacyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleNodes(), Options{Format: FormatLegacy, IconDir: "icons"}))

	var items []schema.LegacyItem
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 4)
	assert.Equal(t, "", items[0].OneNoteParent)
	assert.Equal(t, "sectionGroup", items[1].OneNoteType)
	assert.Equal(t, "icons/section-group.png", items[1].Icon)

	nodes, res := schema.ConvertLegacy(items)
	assert.Equal(t, 4, res.NodesConverted)
	assert.Empty(t, res.Errors)

	page := nodes[3]
	assert.Equal(t, "s1", page.ParentID)
	assert.Equal(t, "onenote:p1?a=1&b=2", page.NavigationURL)
	assert.True(t, page.LastModified.Equal(modified))
	assert.Empty(t, page.Subtitle, "derived fields are recomputed, not imported")
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, sampleNodes(), Options{Format: "xml"}))
}
