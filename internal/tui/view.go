package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tyemirov/labcommons/pkg/routeguard"
)

const (
	helpBrowse = "1-5 views • tab next • j/k move • r reload • s sign in • o sign out • q quit"
	helpAdmin  = "a approve • x reject • j/k move • r reload • tab next • q quit"
	helpSignIn = "tab switch field • enter submit • esc cancel • ctrl+c quit"
)

// View renders the header, the guarded body and the footer.
func (model Model) View() string {
	sections := []string{model.renderHeader(), model.renderBody(), model.renderFooter()}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model Model) renderHeader() string {
	current := routePath(model.path)
	tabs := make([]string, 0, len(viewOrder))
	for index, path := range viewOrder {
		label := fmt.Sprintf("%d:%s", index+1, viewTitles[path])
		if path == current {
			tabs = append(tabs, activeTabStyle.Render(label))
			continue
		}
		tabs = append(tabs, inactiveTabStyle.Render(label))
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("labcommons"), "  ", strings.Join(tabs, "  "))
	return header + "\n" + identityStyle.Render(model.identityLine()) + "\n"
}

func (model Model) identityLine() string {
	switch {
	case !model.state.IsInitialized:
		return "checking session"
	case model.state.User == nil:
		return "signed out"
	case model.state.Profile == nil && model.state.IsLoading:
		return "signed in as " + model.state.User.Email + " (loading profile)"
	case model.state.Profile == nil:
		return "signed in as " + model.state.User.Email
	default:
		return fmt.Sprintf("signed in as %s (%s)", model.state.Profile.Username, model.state.Role())
	}
}

func (model Model) renderBody() string {
	if model.outcome.Decision == routeguard.Pending {
		return model.spinner.View() + " Checking session..."
	}
	if model.onSignInView() {
		return model.renderSignIn()
	}
	if model.loading {
		return model.spinner.View() + " Loading " + strings.ToLower(viewTitles[routePath(model.path)]) + "..."
	}
	switch routePath(model.path) {
	case PathEquipment:
		return model.renderEquipment()
	case PathProjects:
		return model.renderProjects()
	case PathForum:
		return model.renderForum()
	case PathProfile:
		return model.renderProfile()
	case PathAdmin:
		return model.renderAdmin()
	}
	return "Welcome to labcommons. Press 1-5 to browse."
}

func (model Model) renderSignIn() string {
	lines := []string{"Sign in", "", model.email.View(), model.password.View()}
	if returnTo := model.guard.ReturnPath(model.path); returnTo != routeguard.DefaultHomePath {
		lines = append(lines, "", mutedStyle.Render("continues to "+returnTo))
	}
	if model.signingIn {
		lines = append(lines, "", model.spinner.View()+" Signing in...")
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (model Model) renderEquipment() string {
	if len(model.equipment) == 0 {
		return mutedStyle.Render("No equipment listed yet.")
	}
	rows := make([]string, 0, len(model.equipment))
	for index, equipment := range model.equipment {
		rows = append(rows, model.row(index, fmt.Sprintf("%s | %s | %s", equipment.Name, equipment.Type, equipment.Institution)))
	}
	detail := model.equipment[clampCursor(model.cursor, len(model.equipment))]
	rows = append(rows, "", panelStyle.Render(fmt.Sprintf("%s\n%s\n%s\ncontact: %s", detail.Name, detail.Location, detail.Specs, detail.ContactEmail)))
	return strings.Join(rows, "\n")
}

func (model Model) renderProjects() string {
	if len(model.projects) == 0 {
		return mutedStyle.Render("No projects listed yet.")
	}
	rows := make([]string, 0, len(model.projects))
	for index, project := range model.projects {
		rows = append(rows, model.row(index, fmt.Sprintf("%s | %s | %s", project.Name, project.Area, project.Institution)))
	}
	detail := model.projects[clampCursor(model.cursor, len(model.projects))]
	body := fmt.Sprintf("%s\ncoordinator: %s\n%s", detail.Name, detail.Coordinator, detail.Description)
	if len(detail.Vacancies) > 0 {
		body += "\nvacancies: " + strings.Join(detail.Vacancies, ", ")
	}
	rows = append(rows, "", panelStyle.Render(body))
	return strings.Join(rows, "\n")
}

func (model Model) renderForum() string {
	if len(model.posts) == 0 {
		return mutedStyle.Render("No discussions yet.")
	}
	rows := make([]string, 0, len(model.posts))
	for index, post := range model.posts {
		rows = append(rows, model.row(index, fmt.Sprintf("%s  %s", post.Title, mutedStyle.Render("by "+post.AuthorUsername+" on "+post.CreatedAt.Format("2006-01-02")))))
	}
	return strings.Join(rows, "\n")
}

func (model Model) renderProfile() string {
	profile := model.state.Profile
	if profile == nil {
		if model.state.IsLoading {
			return model.spinner.View() + " Loading profile..."
		}
		return mutedStyle.Render("No profile on record.")
	}
	fields := [][2]string{
		{"username", profile.Username},
		{"name", profile.FullName},
		{"institution", profile.Institution},
		{"university", profile.University},
		{"role", profile.Role},
		{"research", profile.ResearchInterests},
		{"orcid", profile.ORCID},
		{"lattes", profile.LattesURL},
		{"linkedin", profile.LinkedInURL},
		{"bio", profile.Bio},
	}
	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-12s %s", field[0], field[1]))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (model Model) renderAdmin() string {
	var builder strings.Builder
	if model.stats != nil {
		builder.WriteString(mutedStyle.Render(fmt.Sprintf(
			"profiles %d • posts %d • equipment %d approved / %d pending • projects %d approved / %d pending • subscribers %d",
			model.stats.Profiles, model.stats.ForumPosts,
			model.stats.ApprovedEquipment, model.stats.PendingEquipment,
			model.stats.ApprovedProjects, model.stats.PendingProjects,
			model.stats.Subscribers)))
		builder.WriteString("\n\n")
	}
	if len(model.pending) == 0 {
		builder.WriteString(mutedStyle.Render("Nothing awaiting review."))
		return builder.String()
	}
	for index, item := range model.pending {
		if index > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(model.row(index, fmt.Sprintf("[%s] %s | %s", item.kind, item.name, item.institution)))
	}
	return builder.String()
}

func (model Model) row(index int, text string) string {
	if index == model.cursor {
		return selectedStyle.Render("> " + text)
	}
	return "  " + text
}

func (model Model) renderFooter() string {
	var lines []string
	if model.err != nil {
		lines = append(lines, errorStyle.Render("error: "+model.err.Error()))
	} else if model.status != "" {
		lines = append(lines, statusStyle.Render(model.status))
	}
	help := helpBrowse
	switch {
	case model.onSignInView() && model.outcome.Decision == routeguard.Allowed:
		help = helpSignIn
	case routePath(model.path) == PathAdmin && model.outcome.Decision == routeguard.Allowed:
		help = helpAdmin
	}
	lines = append(lines, mutedStyle.Render(help))
	return "\n" + strings.Join(lines, "\n")
}
