package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>moderation log for testsub</title>
  <entry>
    <id>https://www.reddit.com/r/testsub/about/log/ModAction_11111111-2222-3333-4444-555555555555</id>
    <author><name>/u/alice</name></author>
    <updated>2023-03-15T12:30:45+00:00</updated>
    <category term="testsub"/>
    <title>testsub: alice removed comment by bob</title>
  </entry>
  <entry>
    <id>https://www.reddit.com/r/testsub/about/log/ModAction_66666666-7777-8888-9999-000000000000</id>
    <author><name>/u/carol</name></author>
    <updated>2023-03-15T12:31:00+00:00</updated>
    <category term="testsub"/>
    <title>testsub: carol banned bob</title>
  </entry>
</feed>`

func TestFromAtom(t *testing.T) {
	actions := FromAtom([]byte(atomFeed))
	require.Len(t, actions, 2)

	first := actions[0]
	assert.Equal(t, "ModAction_11111111-2222-3333-4444-555555555555", first.ID)
	assert.Equal(t, int64(1678883445), first.Timestamp)
	assert.Equal(t, "alice", first.Moderator)
	assert.Equal(t, "reddit", first.Platform)
	assert.Equal(t, "testsub", first.Place)
	assert.Equal(t, "remove", first.Action)
	assert.Equal(t, "comment by bob", first.Object)
	assert.Empty(t, first.Details)
	assert.Empty(t, first.Raw)

	second := actions[1]
	assert.Equal(t, "ModAction_66666666-7777-8888-9999-000000000000", second.ID)
	assert.Equal(t, "carol", second.Moderator)
	assert.Equal(t, "ban", second.Action)
	assert.Equal(t, "bob", second.Object)
}

func TestFromAtomSkipsIncompleteEntries(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>https://www.reddit.com/r/testsub/about/log/ModAction_aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee</id>
    <updated>2023-03-15T12:30:45+00:00</updated>
    <category term="testsub"/>
    <title>testsub: missing author</title>
  </entry>
  <entry>
    <id>https://www.reddit.com/r/testsub/about/log/ModAction_11111111-2222-3333-4444-555555555555</id>
    <author><name>/u/alice</name></author>
    <updated>2023-03-15T12:30:45+00:00</updated>
    <category term="testsub"/>
    <title>testsub: alice approved post by bob</title>
  </entry>
</feed>`

	actions := FromAtom([]byte(feed))
	require.Len(t, actions, 1)
	assert.Equal(t, "approve", actions[0].Action)
	assert.Equal(t, "post by bob", actions[0].Object)
}

func TestFromAtomMalformedFeed(t *testing.T) {
	assert.Nil(t, FromAtom([]byte("not xml at all")))
}

func TestExtractIDAtom(t *testing.T) {
	logger := testLogger()

	id := extractIDAtom(logger,
		"https://www.reddit.com/r/testsub/about/log/ModAction_11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "ModAction_11111111-2222-3333-4444-555555555555", id)

	// No ModAction component falls back to the full id.
	id = extractIDAtom(logger, "https://www.reddit.com/r/testsub/about/log/other")
	assert.Equal(t, "https://www.reddit.com/r/testsub/about/log/other", id)
}
