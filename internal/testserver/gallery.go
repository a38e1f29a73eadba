package testserver

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// ListingPageSize is the number of thumbnails per favorites page
const ListingPageSize = 50

// FakeTag is a tag rendered on a post page
type FakeTag struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// FakePost is a post the fake gallery can render
type FakePost struct {
	ID    int
	Tags  []FakeTag
	Image []byte
	// OmitOriginal drops the "Original image" link from the detail page
	OmitOriginal bool
}

// Gallery fakes the remote site: profile, favorites listing, post pages
// and image assets.
type Gallery struct {
	mu        sync.Mutex
	userID    int
	favorites []int // newest first, as listed
	posts     map[int]*FakePost
	failures  map[string][]int
	requests  map[string]int
	server    *httptest.Server
}

// NewGallery creates a fake gallery whose user favorited ids, newest
// first. Every id gets a post with a single general tag.
func NewGallery(userID int, favorites []int) *Gallery {
	g := &Gallery{
		userID:    userID,
		favorites: append([]int(nil), favorites...),
		posts:     make(map[int]*FakePost),
		failures:  make(map[string][]int),
		requests:  make(map[string]int),
	}
	for _, id := range favorites {
		g.posts[id] = &FakePost{
			ID:    id,
			Tags:  []FakeTag{{Name: "tag " + strconv.Itoa(id), Kind: "general"}},
			Image: []byte(fmt.Sprintf("image-%d", id)),
		}
	}
	g.server = httptest.NewServer(g.Router())
	return g
}

// Sequential returns ids count..1, the newest-first listing of a
// collection where higher ids were favorited later.
func Sequential(count int) []int {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = count - i
	}
	return ids
}

// URL is the base URL of the fake
func (g *Gallery) URL() string {
	return g.server.URL
}

// Close stops the server
func (g *Gallery) Close() {
	g.server.Close()
}

// SetPost replaces or adds a post
func (g *Gallery) SetPost(p FakePost) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts[p.ID] = &p
}

// AddFavorites favorites ids on top of the listing, newest last in the
// argument list, shifting every existing favorite down.
func (g *Gallery) AddFavorites(ids ...int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.favorites = append([]int{id}, g.favorites...)
		if _, ok := g.posts[id]; !ok {
			g.posts[id] = &FakePost{
				ID:    id,
				Tags:  []FakeTag{{Name: "tag " + strconv.Itoa(id), Kind: "general"}},
				Image: []byte(fmt.Sprintf("image-%d", id)),
			}
		}
	}
}

// FailNext makes the next requests for page ("favorites", "post",
// "account" or "image") answer with the given statuses, in order.
func (g *Gallery) FailNext(page string, statuses ...int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[page] = append(g.failures[page], statuses...)
}

// Requests returns how many requests reached page
func (g *Gallery) Requests(page string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[page]
}

// Router builds the chi router behind the fake
func (g *Gallery) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/index.php", g.handleIndex)
	r.Get("/images/{id}.jpg", g.handleImage)
	return r
}

// injectFailure counts the request and pops a queued failure status
func (g *Gallery) injectFailure(w http.ResponseWriter, page string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests[page]++
	queue := g.failures[page]
	if len(queue) == 0 {
		return false
	}
	g.failures[page] = queue[1:]
	w.WriteHeader(queue[0])
	return true
}

func (g *Gallery) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := q.Get("page")
	if g.injectFailure(w, page) {
		return
	}

	switch page {
	case "favorites":
		g.renderListing(w, q.Get("id"), q.Get("pid"))
	case "post":
		g.renderPost(w, q.Get("id"))
	case "account":
		g.renderProfile(w, q.Get("id"))
	default:
		http.NotFound(w, r)
	}
}

func (g *Gallery) renderListing(w http.ResponseWriter, userID, pidParam string) {
	if userID != strconv.Itoa(g.userID) {
		http.NotFound(w, nil)
		return
	}
	pid, _ := strconv.Atoi(pidParam)

	g.mu.Lock()
	var page []int
	if pid < len(g.favorites) {
		end := min(pid+ListingPageSize, len(g.favorites))
		page = append(page, g.favorites[pid:end]...)
	}
	g.mu.Unlock()

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body><div id="content"><div>`)
	for _, id := range page {
		fmt.Fprintf(&b, `<span class="thumb" id="s%d"><a id="p%d" href="index.php?page=post&amp;s=view&amp;id=%d"><img src="/thumbs/%d.jpg"></a><br><a href="#" onclick="remove(%d)">Remove</a></span>`, id, id, id, id, id)
	}
	b.WriteString(`</div></div></body></html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func (g *Gallery) renderPost(w http.ResponseWriter, idParam string) {
	id, _ := strconv.Atoi(idParam)

	g.mu.Lock()
	post, ok := g.posts[id]
	g.mu.Unlock()
	if !ok {
		http.NotFound(w, nil)
		return
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body><div id="post-view"><div class="sidebar"><ul id="tag-sidebar">`)
	for _, tag := range post.Tags {
		query := strings.ReplaceAll(tag.Name, " ", "_")
		fmt.Fprintf(&b, `<li class="tag-type-%s tag"><a href="/wiki">?</a> <a href="index.php?page=post&amp;s=list&amp;tags=%s">%s</a> <span class="tag-count">12</span></li>`,
			html.EscapeString(tag.Kind), html.EscapeString(query), html.EscapeString(tag.Name))
	}
	b.WriteString(`</ul></div><div class="link-list"><ul>`)
	b.WriteString(`<li><a href="#" onclick="addFav()">Add to favorites</a></li>`)
	if !post.OmitOriginal {
		fmt.Fprintf(&b, `<li><a href="/images/%d.jpg" style="font-weight: bold;">Original image</a></li>`, id)
	}
	b.WriteString(`</ul></div></div></body></html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func (g *Gallery) renderProfile(w http.ResponseWriter, userID string) {
	if userID != strconv.Itoa(g.userID) {
		http.NotFound(w, nil)
		return
	}

	g.mu.Lock()
	// the site renders one less than the real number of favorites
	shown := len(g.favorites) - 1
	g.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html><html><body><table><tr><td><b>Favorites</b></td><td><a href="index.php?page=favorites&amp;s=view&amp;id=%s">%d</a></td></tr></table></body></html>`, userID, shown)
}

func (g *Gallery) handleImage(w http.ResponseWriter, r *http.Request) {
	if g.injectFailure(w, "image") {
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	g.mu.Lock()
	post, ok := g.posts[id]
	g.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(post.Image)
}
