package requests

import "time"

const seedUser = "system@xu.edu.ph"

// DemoRecords returns the sample requests used for tracking demos.
func DemoRecords() []*Request {
	return []*Request{
		demoRecord("ERASMO", "12345", StatusProcessing, "Transcript of Records", "2025-01-15"),
		demoRecord("SANTOS", "67890", StatusReady, "Diploma", "2025-01-10"),
		demoRecord("GARCIA", "98765", StatusReceived, "Certificate of Enrollment", "2025-01-20"),
	}
}

func demoRecord(surname, number string, status Status, document, requested string) *Request {
	created, _ := time.Parse(time.DateOnly, requested)
	var history []HistoryEntry
	for _, st := range []Status{StatusReceived, StatusProcessing, StatusReady} {
		history = append(history, HistoryEntry{Status: st, UpdatedBy: seedUser, UpdatedAt: created})
		if st == status {
			break
		}
	}
	return &Request{
		ID:            IDPrefix + "demo_" + number,
		TrackingCode:  surname + "_" + number,
		ControlNumber: number,
		Status:        status,
		StudentDetails: StudentDetails{
			LastName: surname,
		},
		RequestedDocuments: RequestedDocuments{
			Documents:                []string{document},
			OriginalQuantities:       []int{1},
			AuthenticatedQuantities:  []int{0},
			TotalDocuments:           1,
			TotalOriginalCopies:      1,
			TotalAuthenticatedCopies: 0,
		},
		OtherDetails: OtherDetails{
			ControlNumber: number,
			DueDate:       requested,
			ReceiveOption: "pickup",
		},
		StatusHistory: history,
		CreatedBy:     seedUser,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}
