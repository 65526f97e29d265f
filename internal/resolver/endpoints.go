package resolver

import "strings"

// Endpoints holds the base URLs of both platforms' API and web surfaces
type Endpoints struct {
	GitHubAPI string
	GitHubWeb string
	GitLabAPI string
	GitLabWeb string
}

// DefaultEndpoints returns the public GitHub and GitLab endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		GitHubAPI: "https://api.github.com",
		GitHubWeb: "https://github.com",
		GitLabAPI: "https://gitlab.com/api/v4",
		GitLabWeb: "https://gitlab.com",
	}
}

func (e Endpoints) normalized() Endpoints {
	d := DefaultEndpoints()
	pick := func(v, def string) string {
		v = strings.TrimRight(strings.TrimSpace(v), "/")
		if v == "" {
			return def
		}
		return v
	}
	return Endpoints{
		GitHubAPI: pick(e.GitHubAPI, d.GitHubAPI),
		GitHubWeb: pick(e.GitHubWeb, d.GitHubWeb),
		GitLabAPI: pick(e.GitLabAPI, d.GitLabAPI),
		GitLabWeb: pick(e.GitLabWeb, d.GitLabWeb),
	}
}
