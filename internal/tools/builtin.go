package tools

// Dependencies are the services the built-in tools wrap. Nil services leave
// their tools unregistered.
type Dependencies struct {
	Events         EventService
	OrganizationID string
	Claims         ClaimService
	Wallet         Signer
	Chains         ChainSource
	Distributor    Distributor
}

// Builtin returns the registry of every tool whose dependencies are present.
func Builtin(deps Dependencies) (*Registry, error) {
	var list []Tool
	if deps.Events != nil {
		list = append(list,
			RetrieveEvent(deps.Events),
			ListAttendees(deps.Events),
			CreateEvent(deps.Events, deps.OrganizationID),
		)
	}
	if deps.Claims != nil {
		list = append(list,
			GetClaimCodes(deps.Claims),
			GetClaimSecret(deps.Claims),
			MintPOAP(deps.Claims),
		)
	}
	if deps.Wallet != nil {
		list = append(list,
			WalletDetails(deps.Wallet, deps.Chains),
			Balance(deps.Wallet, deps.Chains),
			SignMessage(deps.Wallet),
		)
	}
	if deps.Distributor != nil {
		list = append(list, DistributePOAPs(deps.Distributor))
	}
	return NewRegistry(list...)
}
