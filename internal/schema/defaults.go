package schema

import (
	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/extract"
)

// Field names shared with the dataset.
const (
	FieldName     = "name"
	FieldServices = "services"
)

func headingList(name, label string) extract.FieldSpec {
	return extract.FieldSpec{
		Name: name,
		Kind: extract.List,
		Strategies: []extract.Strategy{
			{Label: "heading-list", Query: browser.HeadingFollowing("h2", label, "ul/li")},
		},
	}
}

func headingBlocks(name, label string) extract.FieldSpec {
	return extract.FieldSpec{
		Name: name,
		Kind: extract.List,
		Strategies: []extract.Strategy{
			{Label: "heading-blocks", Query: browser.HeadingFollowing("h2", label, "div")},
		},
	}
}

func cardScalar(name string, strategies ...extract.Strategy) extract.FieldSpec {
	return extract.FieldSpec{Name: name, Kind: extract.Scalar, Strategies: strategies}
}

// labeledParagraph matches a card paragraph whose class or text carries label.
func labeledParagraph(classHint, textHint string) browser.Query {
	return browser.XPath(".//*[contains(@class, 'hp-p3')][contains(@class, '" + classHint +
		"') or contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), '" +
		textHint + "')]")
}

// Default returns the catalog for drlogy directory pages.
func Default() Catalog {
	return Catalog{
		Detail: Detail{
			Name: extract.FieldSpec{
				Name:     FieldName,
				Kind:     extract.Scalar,
				Required: true,
				Strategies: []extract.Strategy{
					{Label: "doctor-heading", Query: browser.Heading("h1", "Dr.")},
					{Label: "first-h1", Query: browser.CSS("h1")},
				},
			},
			Fields: []extract.FieldSpec{
				headingList("specialization", "Specialization"),
				headingList("languages_spoken", "Languages spoken"),
				headingList("education", "Education"),
				headingList("registrations", "Registrations"),
				headingList("experience", "Experience"),
				{
					Name: "memberships",
					Kind: extract.List,
					Strategies: []extract.Strategy{
						{Label: "list", Query: browser.HeadingFollowing("h2", "Membership", "ul/li")},
						{Label: "paragraphs", Query: browser.HeadingFollowing("h2", "Membership", "p")},
						{Label: "membership-items", Query: browser.HeadingFollowing("h2", "Membership",
							"div[contains(@class, 'membership-item')]/span")},
					},
				},
				headingBlocks("clinic_fees", "Clinic Fees"),
				headingBlocks("timing", "Timing"),
			},
			Services: Services{
				Field:   FieldServices,
				Heading: browser.Heading("h2", "Services"),
				Items: extract.FieldSpec{
					Name: FieldServices,
					Kind: extract.List,
					Strategies: []extract.Strategy{
						{Label: "first-list", Query: browser.HeadingFollowing("h2", "Services", "ul[1]/li")},
					},
				},
			},
		},
		Listing: Listing{
			Card:     browser.CSS(".pc-doc-details"),
			Link:     browser.XPath("//a[contains(@href, '/rajkot/doctor/')]"),
			LinkAttr: "href",
			Fields: []extract.FieldSpec{
				{
					Name:     FieldName,
					Kind:     extract.Scalar,
					Required: true,
					Strategies: []extract.Strategy{
						{Label: "name-class", Query: browser.CSS(".pc-dr-nmmm")},
						{Label: "doctor-heading", Query: browser.XPath(".//*[self::h2 or self::h3][contains(normalize-space(.), 'Dr.')]")},
					},
				},
				cardScalar("qualification",
					extract.Strategy{Label: "qualification-class", Query: browser.CSS(".pc-doc-qualification")},
					extract.Strategy{Label: "qualification-label", Query: labeledParagraph("qual", "mbbs")},
				),
				cardScalar("specialty",
					extract.Strategy{Label: "specialty-class", Query: browser.CSS(".pc-doc-speciality")},
					extract.Strategy{Label: "specialty-label", Query: labeledParagraph("spec", "specialist")},
				),
				cardScalar("experience",
					extract.Strategy{Label: "experience-class", Query: browser.CSS(".pc-doc-experience")},
					extract.Strategy{Label: "experience-label", Query: labeledParagraph("exp", "experience")},
				),
				cardScalar("clinic",
					extract.Strategy{Label: "clinic-class", Query: browser.CSS(".hse-8")},
				),
				cardScalar("location",
					extract.Strategy{Label: "location-class", Query: browser.CSS(".pc-doc-location")},
					extract.Strategy{Label: "address", Query: browser.CSS("address")},
					extract.Strategy{Label: "location-label", Query: labeledParagraph("loc", "rajkot")},
				),
				cardScalar("fee",
					extract.Strategy{Label: "fee-class", Query: browser.CSS(".hp-576")},
					extract.Strategy{Label: "fee-label", Query: labeledParagraph("fee", "₹")},
				),
			},
		},
	}
}
