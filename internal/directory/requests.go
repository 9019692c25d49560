package directory

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/tyemirov/labcommons/pkg/authstate"
)

const maximumTextLength = 5000

type profilePatchRequest struct {
	authstate.ProfilePatch
}

// Validate applies the editable profile field rules to the fields that are present.
func (request profilePatchRequest) Validate() error {
	patch := request.ProfilePatch
	return validation.ValidateStruct(&patch,
		validation.Field(&patch.Username, validation.NilOrNotEmpty, validation.Length(3, 40)),
		validation.Field(&patch.FullName, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&patch.Institution, validation.Length(0, 200)),
		validation.Field(&patch.University, validation.Length(0, 200)),
		validation.Field(&patch.AvatarURL, is.URL),
		validation.Field(&patch.Bio, validation.Length(0, maximumTextLength)),
		validation.Field(&patch.ResearchInterests, validation.Length(0, maximumTextLength)),
		validation.Field(&patch.ORCID, validation.Length(0, 40)),
		validation.Field(&patch.LattesURL, is.URL),
		validation.Field(&patch.LinkedInURL, is.URL),
	)
}

type equipmentRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Institution  string `json:"institution"`
	Location     string `json:"location"`
	Specs        string `json:"specs"`
	ContactEmail string `json:"contact_email"`
	ImageURL     string `json:"image_url"`
}

// Validate runs the equipment submission rules.
func (request equipmentRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Type, validation.Required, validation.Length(1, 100)),
		validation.Field(&request.Institution, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Location, validation.Length(0, 200)),
		validation.Field(&request.Specs, validation.Length(0, maximumTextLength)),
		validation.Field(&request.ContactEmail, validation.Required, is.Email),
		validation.Field(&request.ImageURL, is.URL),
	)
}

func (request equipmentRequest) toEquipment(submitterID string) Equipment {
	return Equipment{
		Name:         strings.TrimSpace(request.Name),
		Type:         strings.TrimSpace(request.Type),
		Institution:  strings.TrimSpace(request.Institution),
		Location:     strings.TrimSpace(request.Location),
		Specs:        strings.TrimSpace(request.Specs),
		ContactEmail: strings.ToLower(strings.TrimSpace(request.ContactEmail)),
		ImageURL:     strings.TrimSpace(request.ImageURL),
		SubmittedBy:  submitterID,
	}
}

type projectRequest struct {
	Name         string   `json:"name"`
	Coordinator  string   `json:"coordinator"`
	Institution  string   `json:"institution"`
	Area         string   `json:"area"`
	ContactEmail string   `json:"contact_email"`
	Description  string   `json:"description"`
	Vacancies    []string `json:"vacancies"`
	ImageURL     string   `json:"image_url"`
}

// Validate runs the project submission rules.
func (request projectRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Coordinator, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Institution, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Area, validation.Length(0, 100)),
		validation.Field(&request.ContactEmail, validation.Required, is.Email),
		validation.Field(&request.Description, validation.Required, validation.Length(1, maximumTextLength)),
		validation.Field(&request.Vacancies, validation.Length(0, 50)),
		validation.Field(&request.ImageURL, is.URL),
	)
}

func (request projectRequest) toProject(submitterID string) Project {
	vacancies := make([]string, 0, len(request.Vacancies))
	for _, vacancy := range request.Vacancies {
		if trimmed := strings.TrimSpace(vacancy); trimmed != "" {
			vacancies = append(vacancies, trimmed)
		}
	}
	return Project{
		Name:         strings.TrimSpace(request.Name),
		Coordinator:  strings.TrimSpace(request.Coordinator),
		Institution:  strings.TrimSpace(request.Institution),
		Area:         strings.TrimSpace(request.Area),
		ContactEmail: strings.ToLower(strings.TrimSpace(request.ContactEmail)),
		Description:  strings.TrimSpace(request.Description),
		Vacancies:    vacancies,
		ImageURL:     strings.TrimSpace(request.ImageURL),
		SubmittedBy:  submitterID,
	}
}

type applicationRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Validate runs the project application rules.
func (request applicationRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Email, validation.Required, is.Email),
		validation.Field(&request.Message, validation.Length(0, maximumTextLength)),
	)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// Validate accepts approve or reject verdicts.
func (request decisionRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Decision, validation.Required, validation.In(StatusApproved, StatusRejected)),
		validation.Field(&request.Notes, validation.Length(0, maximumTextLength)),
	)
}

type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Validate requires a title and a body.
func (request postRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Content, validation.Required, validation.Length(1, maximumTextLength)),
	)
}

type commentRequest struct {
	Content string `json:"content"`
}

// Validate requires a non-empty comment.
func (request commentRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Content, validation.Required, validation.Length(1, maximumTextLength)),
	)
}

type newsletterRequest struct {
	Email string `json:"email"`
}

// Validate requires a well-formed address.
func (request newsletterRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Email, validation.Required, is.Email),
	)
}
